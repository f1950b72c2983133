package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
)

// AssetLedger keeps non-negative balances of one asset kind per account.
//
// A ledger obtained from stage records writes in its own map and reads
// through to its parent; commit folds those writes into the parent. Nothing
// staged is visible through the parent before commit.
type AssetLedger struct {
	kind     AssetKind
	parent   *AssetLedger
	balances map[Address]decimal.Decimal
}

func NewAssetLedger(kind AssetKind) *AssetLedger {
	return &AssetLedger{
		kind:     kind,
		balances: make(map[Address]decimal.Decimal),
	}
}

func (l *AssetLedger) Kind() AssetKind {
	return l.kind
}

func (l *AssetLedger) BalanceOf(account Address) decimal.Decimal {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	if l.parent != nil {
		return l.parent.BalanceOf(account)
	}
	return decimal.Zero
}

func (l *AssetLedger) Credit(account Address, amount decimal.Decimal) error {
	if err := safe.Check(amount); err != nil {
		return amountError(err)
	}
	next, err := safe.Add(l.BalanceOf(account), amount)
	if err != nil {
		return fmt.Errorf("credit %s %s: %w", l.kind, account, amountError(err))
	}
	l.balances[account] = next
	return nil
}

func (l *AssetLedger) Debit(account Address, amount decimal.Decimal) error {
	if err := safe.Check(amount); err != nil {
		return amountError(err)
	}
	current := l.BalanceOf(account)
	if amount.GreaterThan(current) {
		return ErrInsufficientBalance
	}
	next, err := safe.Sub(current, amount)
	if err != nil {
		return fmt.Errorf("debit %s %s: %w", l.kind, account, amountError(err))
	}
	l.balances[account] = next
	return nil
}

// Total sums every balance visible through this ledger.
func (l *AssetLedger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, account := range l.Accounts() {
		total = total.Add(l.BalanceOf(account))
	}
	return total
}

// Accounts lists every account with a recorded balance, sorted.
func (l *AssetLedger) Accounts() []Address {
	seen := make(map[Address]struct{})
	for cur := l; cur != nil; cur = cur.parent {
		for account := range cur.balances {
			seen[account] = struct{}{}
		}
	}
	return sortedAddresses(seen)
}

func (l *AssetLedger) stage() *AssetLedger {
	return &AssetLedger{
		kind:     l.kind,
		parent:   l,
		balances: make(map[Address]decimal.Decimal),
	}
}

func (l *AssetLedger) commit() {
	if l.parent == nil {
		return
	}
	for account, bal := range l.balances {
		l.parent.balances[account] = bal
	}
	l.balances = make(map[Address]decimal.Decimal)
}

func (l *AssetLedger) touched() []Address {
	seen := make(map[Address]struct{}, len(l.balances))
	for account := range l.balances {
		seen[account] = struct{}{}
	}
	return sortedAddresses(seen)
}

func (l *AssetLedger) set(account Address, amount decimal.Decimal) {
	l.balances[account] = amount
}

func amountError(err error) error {
	if errors.Is(err, safe.ErrOverflow) {
		return fmt.Errorf("%w: %w", ErrAmountOverflow, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
}

func sortedAddresses(set map[Address]struct{}) []Address {
	out := make([]Address, 0, len(set))
	for account := range set {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
