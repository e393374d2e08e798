package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration is returned for an audio duration that is
	// zero, negative or beyond the chargeable maximum. It is rejected
	// before any mutation; nothing is ever charged as zero seconds.
	ErrInvalidDuration = errors.New("audio duration out of range")

	// ErrInvalidTopup is returned for a non-positive top-up amount.
	ErrInvalidTopup = errors.New("topup seconds must be positive")

	// ErrNotFound covers unknown packages, ledger ids and payment
	// payloads.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyCredited signals that a payment payload has already
	// been settled. Webhook callers must treat it as success.
	ErrAlreadyCredited = errors.New("payment already credited")

	// ErrPackageInactive is returned when a purchase is attempted
	// against a deactivated package.
	ErrPackageInactive = errors.New("package is not active")
)

// InsufficientCreditError carries the current balances so the caller
// can render them to the user. It is never retried automatically.
type InsufficientCreditError struct {
	BasicRemainingSec int64
	TopupRemainingSec int64
	RequiredSec       int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: need %ds, have %ds basic + %ds topup",
		e.RequiredSec, e.BasicRemainingSec, e.TopupRemainingSec)
}
