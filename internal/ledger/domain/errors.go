package domain

import (
	"errors"
	"fmt"
)

// Ledger and settlement errors
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientLockedFunds = errors.New("insufficient locked funds")
	ErrNotFound                = errors.New("not found")
	ErrAlreadySettled          = errors.New("payment already settled")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrClosed                  = errors.New("pool is closed")
	ErrInvalidTransition       = errors.New("invalid payment transition")
	ErrInvalidNumbers          = errors.New("invalid bet numbers")
	ErrInvalidPixKey           = errors.New("pix key does not match account holder")
	ErrPSP                     = errors.New("payment provider error")
)

// PSPError wraps a failure reported by, or while talking to, the payment provider.
type PSPError struct {
	Op      string
	Message string
	Timeout bool
	Err     error
}

func (e *PSPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("psp %s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("psp %s: %v", e.Op, e.Err)
	}
	return "psp " + e.Op + " failed"
}

func (e *PSPError) Unwrap() error { return e.Err }

// Is makes every PSPError match ErrPSP
func (e *PSPError) Is(target error) bool { return target == ErrPSP }

// IsUserError reports whether err is something the caller can fix (add funds,
// change input) as opposed to an infrastructure failure worth retrying later.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrInsufficientFunds,
		ErrInsufficientLockedFunds,
		ErrClosed,
		ErrInvalidNumbers,
		ErrInvalidPixKey,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
