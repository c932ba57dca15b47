package donation

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/db"
)

// Request is one settlement of a user's balance. AmountSats is fixed when the
// request is created and must equal what is invoiced, collected and forwarded.
type Request struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
	AmountSats  int64  `json:"amount_sats"`
	Destination string `json:"destination"`
	Memo        string `json:"memo,omitempty"`
}

// TransferAttempt describes one forwarding of collected funds.
type TransferAttempt struct {
	Destination string `json:"destination"`
	Invoice     string `json:"invoice,omitempty"`
	FeeSats     int64  `json:"fee_sats"`
	Status      string `json:"status,omitempty"`
}

// Succeeded reports whether the payment provider reported SUCCESS.
func (t TransferAttempt) Succeeded() bool {
	return t.Status == string(blink.PaymentSuccess)
}

// Status is the final outcome of a settlement.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusExpired        Status = "expired"
	StatusTimedOut       Status = "timed_out"
	StatusCancelled      Status = "cancelled"
	StatusHeld           Status = "held"
	StatusIssueFailed    Status = "issue_failed"
	StatusLedgerConflict Status = "ledger_conflict"
	StatusRejected       Status = "rejected"
)

// Result is what a settlement produced. Err is nil only for StatusCompleted.
type Result struct {
	Status   Status           `json:"status"`
	Request  Request          `json:"request"`
	Invoice  *blink.Invoice   `json:"invoice,omitempty"`
	Attempt  *TransferAttempt `json:"attempt,omitempty"`
	Donation *db.Donation     `json:"-"`
	Err      error            `json:"-"`
}

// Message is the user-facing text for the outcome. Every status has its own text.
func (r *Result) Message() string {
	switch r.Status {
	case StatusCompleted:
		return fmt.Sprintf("Donated %d sats to %s. Thank you!", r.Request.AmountSats, r.Request.Destination)
	case StatusExpired:
		return "The invoice expired before it was paid. Nothing was charged; start a new donation when ready."
	case StatusTimedOut:
		return "Payment was not confirmed in time. If you already paid, check your donation history later."
	case StatusCancelled:
		return "Donation cancelled. Your balance is unchanged."
	case StatusHeld:
		return fmt.Sprintf("Your payment of %d sats was received but could not be forwarded to %s. "+
			"Your funds are held safely; retry or contact support.", r.Request.AmountSats, r.Request.Destination)
	case StatusIssueFailed:
		return "Could not create an invoice right now. Please try again later."
	case StatusLedgerConflict:
		return "Your donation was forwarded but your balance could not be updated. Please contact support."
	case StatusRejected:
		return rejectionMessage(r.Err)
	default:
		return "Donation failed."
	}
}

func rejectionMessage(err error) string {
	var ae *AmountError
	switch {
	case errors.Is(err, ErrNothingToDonate):
		return "You have no sats to donate yet. Record some activity first."
	case errors.As(err, &ae) && errors.Is(err, ErrAmountTooSmall):
		return fmt.Sprintf("Your balance of %d sats is below the minimum donation of %d sats.", ae.Amount, ae.Limit)
	case errors.As(err, &ae) && errors.Is(err, ErrAmountTooLarge):
		return fmt.Sprintf("Your balance of %d sats is above the maximum donation of %d sats.", ae.Amount, ae.Limit)
	case errors.Is(err, ErrSettlementInProgress):
		return "A donation is already in progress. Finish or cancel it first."
	case err != nil:
		return "Donation request rejected: " + err.Error()
	default:
		return "Donation request rejected."
	}
}

// Issuer creates collectible invoices.
type Issuer interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*blink.Invoice, error)
}

// Waiter blocks until an invoice reaches a terminal state.
type Waiter interface {
	Await(ctx context.Context, paymentRequest string) (blink.Confirmation, error)
}

// AddressResolver turns a Lightning Address into an invoice for an amount.
type AddressResolver interface {
	Resolve(ctx context.Context, address string, amountSats int64) (string, error)
}

// FeeProber estimates routing fees. It never fails.
type FeeProber interface {
	ProbeFee(ctx context.Context, paymentRequest string) int64
}

// Payer pays an invoice.
type Payer interface {
	PayInvoice(ctx context.Context, paymentRequest string) (blink.PaymentStatus, error)
}

// Ledger is the persistent balance store. DebitAndRecord must be conditional
// on the balance covering the amount and idempotent on the collected invoice.
type Ledger interface {
	ReadBalance(ctx context.Context, userID int64) (int64, error)
	DebitAndRecord(ctx context.Context, params db.DebitParams) (*db.Donation, error)
}

// Presenter shows invoices to the user and relays the final outcome.
type Presenter interface {
	PresentInvoice(ctx context.Context, req Request, inv *blink.Invoice) error
	Notify(ctx context.Context, res *Result) error
}
