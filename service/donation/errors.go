package donation

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToDonate is returned when the user's balance is zero.
	ErrNothingToDonate = errors.New("nothing to donate")

	// ErrAmountTooSmall matches an *AmountError below the configured minimum.
	ErrAmountTooSmall = errors.New("amount below minimum")

	// ErrAmountTooLarge matches an *AmountError above the configured maximum.
	ErrAmountTooLarge = errors.New("amount above maximum")

	// ErrAmountMismatch means the issued invoice is not for the requested amount.
	ErrAmountMismatch = errors.New("invoiced amount does not match request")

	// ErrSettlementInProgress means the user already has a settlement running.
	ErrSettlementInProgress = errors.New("settlement already in progress")
)

// AmountError reports an amount outside the configured donation bounds.
type AmountError struct {
	Amount int64
	Limit  int64
	Kind   error
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("%v: %d sats (limit %d)", e.Kind, e.Amount, e.Limit)
}

func (e *AmountError) Unwrap() error {
	return e.Kind
}

// HeldFundsError means the user's payment was collected but forwarding failed.
// The funds stay in the custodial wallet and the ledger is untouched.
type HeldFundsError struct {
	Stage   string
	Attempt TransferAttempt
	Err     error
}

func (e *HeldFundsError) Error() string {
	return fmt.Sprintf("funds held: forwarding failed at %s: %v", e.Stage, e.Err)
}

func (e *HeldFundsError) Unwrap() error {
	return e.Err
}
