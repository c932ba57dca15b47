package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/donation"
	"github.com/brojonat/satsforward/service/metrics"
	natspkg "github.com/brojonat/satsforward/service/nats"
)

// heartbeatInterval must stay well below the HeartbeatTimeout set by the workflow.
const heartbeatInterval = 10 * time.Second

// AwaitConfirmationInput contains parameters for waiting on the collected invoice.
type AwaitConfirmationInput struct {
	UserID  int64         `json:"user_id"`
	Invoice blink.Invoice `json:"invoice"`
}

// AwaitConfirmationResult contains the terminal confirmation of the invoice.
type AwaitConfirmationResult struct {
	Confirmation blink.Confirmation `json:"confirmation"`
}

// ForwardDonationInput contains parameters for forwarding collected funds.
type ForwardDonationInput struct {
	Request donation.Request `json:"request"`
	Invoice blink.Invoice    `json:"invoice"`
}

// ForwardDonationResult describes the forwarding attempt. Held is set when the
// funds were collected but could not be forwarded.
type ForwardDonationResult struct {
	Attempt donation.TransferAttempt `json:"attempt"`
	Held    bool                     `json:"held"`
	Stage   string                   `json:"stage,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// CommitDonationInput contains parameters for debiting the ledger.
type CommitDonationInput struct {
	Request donation.Request         `json:"request"`
	Invoice blink.Invoice            `json:"invoice"`
	Attempt donation.TransferAttempt `json:"attempt"`
}

// CommitDonationResult contains the history row written by the commit.
type CommitDonationResult struct {
	DonationID int64 `json:"donation_id"`
}

// ErrTypeBalanceConflict is the application error type of a refused debit.
const ErrTypeBalanceConflict = "BalanceConflict"

// Settler is the part of the donation orchestrator the activities drive.
// *donation.Orchestrator implements it.
type Settler interface {
	AwaitPayment(ctx context.Context, inv *blink.Invoice) (blink.Confirmation, error)
	Forward(ctx context.Context, req donation.Request, inv *blink.Invoice) (donation.TransferAttempt, error)
	Commit(ctx context.Context, req donation.Request, inv *blink.Invoice, attempt donation.TransferAttempt) (*db.Donation, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	settler   Settler
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(settler Settler, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		settler:   settler,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// AwaitConfirmation polls the collected invoice until it is paid, expires or the
// poll window ends. Heartbeats let Temporal deliver cancellation while waiting.
func (a *Activities) AwaitConfirmation(ctx context.Context, input AwaitConfirmationInput) (*AwaitConfirmationResult, error) {
	start := time.Now()
	a.logger.InfoContext(ctx, "waiting for donation payment",
		"user_id", input.UserID,
		"payment_hash", input.Invoice.PaymentHash,
		"amount_sats", input.Invoice.AmountSats,
	)

	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, "waiting for payment")
			}
		}
	}()

	inv := input.Invoice
	conf, err := a.settler.AwaitPayment(ctx, &inv)
	a.recordDuration("AwaitConfirmation", string(conf), start)
	if conf == blink.ConfirmationCancelled {
		if err == nil {
			err = context.Canceled
		}
		return nil, err
	}

	a.logger.InfoContext(ctx, "donation payment wait finished",
		"user_id", input.UserID,
		"confirmation", conf,
	)
	return &AwaitConfirmationResult{Confirmation: conf}, nil
}

// ForwardDonation sends the collected amount to the destination address. A
// failure after collection is reported in the result rather than as an error so
// the workflow never retries a payment.
func (a *Activities) ForwardDonation(ctx context.Context, input ForwardDonationInput) (*ForwardDonationResult, error) {
	start := time.Now()
	inv := input.Invoice

	attempt, err := a.settler.Forward(ctx, input.Request, &inv)
	result := &ForwardDonationResult{Attempt: attempt}
	if err != nil {
		result.Held = true
		result.Error = err.Error()
		var held *donation.HeldFundsError
		if errors.As(err, &held) {
			result.Stage = held.Stage
		}
		a.logger.ErrorContext(ctx, "forwarding failed, funds held",
			"user_id", input.Request.UserID,
			"amount_sats", input.Request.AmountSats,
			"stage", result.Stage,
			"error", err,
		)
		a.recordDuration("ForwardDonation", "held", start)
		return result, nil
	}

	a.recordDuration("ForwardDonation", "success", start)
	return result, nil
}

// CommitDonation debits the ledger for a forwarded donation. A refused debit is
// returned as a non-retryable ErrTypeBalanceConflict application error.
func (a *Activities) CommitDonation(ctx context.Context, input CommitDonationInput) (*CommitDonationResult, error) {
	start := time.Now()
	inv := input.Invoice

	d, err := a.settler.Commit(ctx, input.Request, &inv, input.Attempt)
	if err != nil {
		a.recordDuration("CommitDonation", "error", start)
		if errors.Is(err, db.ErrBalanceConflict) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeBalanceConflict, err)
		}
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	a.recordDuration("CommitDonation", "success", start)
	return &CommitDonationResult{DonationID: d.ID}, nil
}

// ReportOutcome records the settlement outcome and publishes it to subscribers.
// Publishing is best effort.
func (a *Activities) ReportOutcome(ctx context.Context, result SettleDonationResult) error {
	if a.metrics != nil {
		a.metrics.RecordDonation(string(result.Status), result.Request.AmountSats,
			result.FinishedAt.Sub(result.StartedAt).Seconds())
	}
	if a.publisher == nil {
		return nil
	}

	event := natspkg.FromResult(result.toDonationResult())
	event.WorkflowID = activity.GetInfo(ctx).WorkflowExecution.ID
	if err := a.publisher.PublishDonationEvent(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "failed to publish donation outcome",
			"user_id", result.Request.UserID,
			"status", result.Status,
			"error", err,
		)
	}
	return nil
}

func (a *Activities) recordDuration(name, status string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, status, time.Since(start).Seconds())
	}
}
