package engine

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account by its 20-byte hex address.
type Address string

// ParseAddress normalizes a 0x-prefixed 40 hex digit address to lower case.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if !strings.HasPrefix(trimmed, "0x") || len(trimmed) != 42 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}
	if _, err := hex.DecodeString(trimmed[2:]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}
	return Address(trimmed), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(value string) Address {
	addr, err := ParseAddress(value)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return string(a)
}
