package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
)

// Balance is an account's tradable position inside the vault.
type Balance struct {
	Account  Address
	Free     decimal.Decimal
	Escrowed decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Escrowed)
}

// Supply summarizes custody of the tradable asset.
type Supply struct {
	Deposited decimal.Decimal
	Withdrawn decimal.Decimal
	Free      decimal.Decimal
	Escrowed  decimal.Decimal
}

// Held is the amount under custody according to the account ledgers.
func (s Supply) Held() decimal.Decimal {
	return s.Free.Add(s.Escrowed)
}

// Net is deposits minus withdrawals.
func (s Supply) Net() decimal.Decimal {
	return s.Deposited.Sub(s.Withdrawn)
}

// EscrowVault holds the tradable asset, split into free and escrowed
// balances per account.
type EscrowVault struct {
	parent    *EscrowVault
	free      *AssetLedger
	escrow    *AssetLedger
	deposited decimal.Decimal
	withdrawn decimal.Decimal
}

func NewEscrowVault() *EscrowVault {
	return &EscrowVault{
		free:      NewAssetLedger(AssetTradable),
		escrow:    NewAssetLedger(AssetTradable),
		deposited: decimal.Zero,
		withdrawn: decimal.Zero,
	}
}

func (v *EscrowVault) Balance(account Address) Balance {
	return Balance{
		Account:  account,
		Free:     v.free.BalanceOf(account),
		Escrowed: v.escrow.BalanceOf(account),
	}
}

func (v *EscrowVault) Supply() Supply {
	return Supply{
		Deposited: v.deposited,
		Withdrawn: v.withdrawn,
		Free:      v.free.Total(),
		Escrowed:  v.escrow.Total(),
	}
}

// Deposit takes amount into custody and credits account's free balance.
func (v *EscrowVault) Deposit(account Address, amount decimal.Decimal) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	deposited, err := safe.Add(v.deposited, amount)
	if err != nil {
		return amountError(err)
	}
	if err := v.free.Credit(account, amount); err != nil {
		return err
	}
	v.deposited = deposited
	return nil
}

// Withdraw releases amount of account's free balance from custody.
func (v *EscrowVault) Withdraw(account Address, amount decimal.Decimal) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	withdrawn, err := safe.Add(v.withdrawn, amount)
	if err != nil {
		return amountError(err)
	}
	if err := v.free.Debit(account, amount); err != nil {
		return freeBalanceError(err)
	}
	v.withdrawn = withdrawn
	return nil
}

func (v *EscrowVault) LockForListing(account Address, amount decimal.Decimal) error {
	if err := v.free.Debit(account, amount); err != nil {
		return freeBalanceError(err)
	}
	return v.escrow.Credit(account, amount)
}

// ReleaseToFree returns escrowed units to the owner's free balance. A short
// escrow balance means the books no longer match the listings.
func (v *EscrowVault) ReleaseToFree(account Address, amount decimal.Decimal) error {
	if err := v.escrow.Debit(account, amount); err != nil {
		return escrowBalanceError(account, err)
	}
	return v.free.Credit(account, amount)
}

// TransferEscrowed moves escrowed units of from into the free balance of to.
func (v *EscrowVault) TransferEscrowed(from, to Address, amount decimal.Decimal) error {
	if err := v.escrow.Debit(from, amount); err != nil {
		return escrowBalanceError(from, err)
	}
	return v.free.Credit(to, amount)
}

func (v *EscrowVault) stage() *EscrowVault {
	return &EscrowVault{
		parent:    v,
		free:      v.free.stage(),
		escrow:    v.escrow.stage(),
		deposited: v.deposited,
		withdrawn: v.withdrawn,
	}
}

func (v *EscrowVault) commit() {
	if v.parent == nil {
		return
	}
	v.free.commit()
	v.escrow.commit()
	v.parent.deposited = v.deposited
	v.parent.withdrawn = v.withdrawn
}

func (v *EscrowVault) touched() []Balance {
	seen := make(map[Address]struct{})
	for _, account := range v.free.touched() {
		seen[account] = struct{}{}
	}
	for _, account := range v.escrow.touched() {
		seen[account] = struct{}{}
	}
	out := make([]Balance, 0, len(seen))
	for _, account := range sortedAddresses(seen) {
		out = append(out, v.Balance(account))
	}
	return out
}

func (v *EscrowVault) restore(balances []Balance, deposited, withdrawn decimal.Decimal) {
	v.free = NewAssetLedger(AssetTradable)
	v.escrow = NewAssetLedger(AssetTradable)
	for _, bal := range balances {
		v.free.set(bal.Account, bal.Free)
		v.escrow.set(bal.Account, bal.Escrowed)
	}
	v.deposited = deposited
	v.withdrawn = withdrawn
}

func freeBalanceError(err error) error {
	if errors.Is(err, ErrInsufficientBalance) {
		return ErrInsufficientFreeBalance
	}
	return err
}

func escrowBalanceError(account Address, err error) error {
	if errors.Is(err, ErrInsufficientBalance) {
		return fmt.Errorf("%w: account %s", ErrInsufficientEscrowBalance, account)
	}
	return err
}
