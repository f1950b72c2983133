// Package safe holds checked arithmetic for raw token amounts.
//
// Amounts are non-negative integers in an asset's smallest unit, capped at
// 2^256-1 like an EVM uint256. Arithmetic that would leave that range
// returns an error instead of wrapping.
package safe

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotInteger = errors.New("amount must be an integer")
	ErrNegative   = errors.New("amount must not be negative")
	ErrOverflow   = errors.New("amount overflow")
	ErrUnderflow  = errors.New("amount underflow")
)

// MaxAmount is the largest representable amount.
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// ParseAmount parses a base-10 string of digits into an amount.
func ParseAmount(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrNotInteger, trimmed)
		}
	}
	n, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotInteger, trimmed)
	}
	amount := decimal.NewFromBigInt(n, 0)
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrOverflow
	}
	return amount, nil
}

// Check reports whether d is a valid amount.
func Check(d decimal.Decimal) error {
	if !d.IsInteger() {
		return ErrNotInteger
	}
	if d.IsNegative() {
		return ErrNegative
	}
	if d.GreaterThan(MaxAmount) {
		return ErrOverflow
	}
	return nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := Check(a); err != nil {
		return decimal.Zero, err
	}
	if err := Check(b); err != nil {
		return decimal.Zero, err
	}
	sum := a.Add(b)
	if sum.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := Check(a); err != nil {
		return decimal.Zero, err
	}
	if err := Check(b); err != nil {
		return decimal.Zero, err
	}
	if b.GreaterThan(a) {
		return decimal.Zero, ErrUnderflow
	}
	return a.Sub(b), nil
}

// Format renders an amount as a plain digit string.
func Format(d decimal.Decimal) string {
	return d.BigInt().String()
}
