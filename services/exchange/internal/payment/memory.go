package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

// MemoryToken is an in-process ERC20-style token. The exchange is the only
// spender, so allowances are tracked per owner.
type MemoryToken struct {
	mu         sync.Mutex
	address    engine.Address
	spender    engine.Address
	balances   map[engine.Address]decimal.Decimal
	allowances map[engine.Address]decimal.Decimal
}

func NewMemoryToken(address, spender engine.Address) *MemoryToken {
	return &MemoryToken{
		address:    address,
		spender:    spender,
		balances:   make(map[engine.Address]decimal.Decimal),
		allowances: make(map[engine.Address]decimal.Decimal),
	}
}

func (t *MemoryToken) Address() engine.Address {
	return t.address
}

func (t *MemoryToken) BalanceOf(_ context.Context, account engine.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner engine.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner], nil
}

func (t *MemoryToken) Mint(_ context.Context, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := safe.Add(t.balances[to], amount)
	if err != nil {
		return err
	}
	t.balances[to] = next
	return nil
}

// Approve sets the amount the exchange may pull from owner.
func (t *MemoryToken) Approve(_ context.Context, owner engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[owner] = amount
	return nil
}

func (t *MemoryToken) TransferFrom(_ context.Context, from, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[from].LessThan(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from] = t.allowances[from].Sub(amount)
	return nil
}

// Transfer pays out of the exchange's own holdings.
func (t *MemoryToken) Transfer(_ context.Context, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(t.spender, to, amount)
}

func (t *MemoryToken) move(from, to engine.Address, amount decimal.Decimal) error {
	fromBal := t.balances[from]
	if fromBal.LessThan(amount) {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := safe.Add(t.balances[to], amount)
	if err != nil {
		return err
	}
	t.balances[from] = fromBal.Sub(amount)
	t.balances[to] = toBal
	return nil
}
