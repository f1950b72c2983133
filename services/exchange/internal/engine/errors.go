package engine

import "errors"

var (
	ErrZeroAmount                = errors.New("amount must be greater than zero")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidAddress            = errors.New("invalid address")
	ErrListingNotFound           = errors.New("listing not found")
	ErrNotSeller                 = errors.New("caller is not the seller")
	ErrSelfTrade                 = errors.New("seller cannot buy own listing")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientFreeBalance   = errors.New("insufficient free balance")
	ErrListingNotActive          = errors.New("listing not active")
	ErrPaymentTransferFailed     = errors.New("payment transfer failed")
	ErrInsufficientEscrowBalance = errors.New("insufficient escrow balance")
	ErrAmountOverflow            = errors.New("amount overflow")
	ErrReentrantCall             = errors.New("reentrant call into exchange")
	ErrJournal                   = errors.New("journal failure")
	ErrInvariant                 = errors.New("invariant violated")
)

type ErrorClass string

const (
	ClassValidation          ErrorClass = "validation"
	ClassAuthorization       ErrorClass = "authorization"
	ClassInsufficient        ErrorClass = "insufficient_resource"
	ClassStateConflict       ErrorClass = "state_conflict"
	ClassExternalDependency  ErrorClass = "external_dependency"
	ClassInternalConsistency ErrorClass = "internal_consistency"
)

// Classify maps an engine error to its class. Unknown errors are internal.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrZeroAmount), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrListingNotFound),
		errors.Is(err, ErrAmountOverflow):
		return ClassValidation
	case errors.Is(err, ErrNotSeller), errors.Is(err, ErrSelfTrade), errors.Is(err, ErrReentrantCall):
		return ClassAuthorization
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientFreeBalance):
		return ClassInsufficient
	case errors.Is(err, ErrListingNotActive):
		return ClassStateConflict
	case errors.Is(err, ErrPaymentTransferFailed):
		return ClassExternalDependency
	default:
		return ClassInternalConsistency
	}
}
