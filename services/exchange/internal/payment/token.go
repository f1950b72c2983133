// Package payment implements the payment token the exchange settles in.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

var (
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrConflict              = errors.New("concurrent token update")
)

// Faucet issues payment tokens and records allowances on behalf of holders.
// Only development deployments expose it.
type Faucet interface {
	Address() engine.Address
	BalanceOf(ctx context.Context, account engine.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner engine.Address) (decimal.Decimal, error)
	Mint(ctx context.Context, to engine.Address, amount decimal.Decimal) error
	Approve(ctx context.Context, owner engine.Address, amount decimal.Decimal) error
}

var (
	_ Faucet = (*MemoryToken)(nil)
	_ Faucet = (*RedisToken)(nil)
)

func checkAmount(amount decimal.Decimal) error {
	if err := safe.Check(amount); err != nil {
		return fmt.Errorf("token amount: %w", err)
	}
	return nil
}
