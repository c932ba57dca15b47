package temporal

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

// QueryStatus is the query type that returns the current *SettleDonationResult.
const QueryStatus = "status"

// Settlement stages reported by the status query.
const (
	StageAwaitingPayment = "awaiting_payment"
	StageForwarding      = "forwarding"
	StageCommitting      = "committing"
	StageFinished        = "finished"
)

// WorkflowID is the workflow id of userID's settlement. At most one settlement
// per user runs at a time.
func WorkflowID(userID int64) string {
	return fmt.Sprintf("donation-%d", userID)
}

// SettleDonationInput starts a settlement for an invoice that was already issued
// and shown to the user.
type SettleDonationInput struct {
	Request        donation.Request `json:"request"`
	Invoice        blink.Invoice    `json:"invoice"`
	PaymentTimeout time.Duration    `json:"payment_timeout"`
}

// SettleDonationResult is the state of a settlement. Status is empty until the
// workflow reaches StageFinished.
type SettleDonationResult struct {
	Status     donation.Status           `json:"status,omitempty"`
	Stage      string                    `json:"stage"`
	Message    string                    `json:"message,omitempty"`
	Request    donation.Request          `json:"request"`
	Invoice    blink.Invoice             `json:"invoice"`
	Attempt    *donation.TransferAttempt `json:"attempt,omitempty"`
	DonationID int64                     `json:"donation_id,omitempty"`
	Error      string                    `json:"error,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at,omitempty"`
}

// Finished reports whether the settlement reached a final status.
func (r *SettleDonationResult) Finished() bool {
	return r.Stage == StageFinished
}

func (r *SettleDonationResult) toDonationResult() *donation.Result {
	inv := r.Invoice
	res := &donation.Result{
		Status:  r.Status,
		Request: r.Request,
		Invoice: &inv,
		Attempt: r.Attempt,
	}
	if r.Error != "" {
		res.Err = errors.New(r.Error)
	}
	return res
}

// SettleDonationWorkflow waits for the user to pay the collected invoice, then
// forwards the amount to the destination and debits the ledger.
//
// Cancelling the workflow while waiting ends it as cancelled. Once payment is
// confirmed the forward and commit run to completion even if the workflow is
// cancelled. Forwarding is attempted exactly once; a failure leaves the funds held.
func SettleDonationWorkflow(ctx workflow.Context, input SettleDonationInput) (*SettleDonationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SettleDonationWorkflow started",
		"user_id", input.Request.UserID,
		"amount_sats", input.Request.AmountSats,
		"destination", input.Request.Destination,
	)

	result := &SettleDonationResult{
		Stage:     StageAwaitingPayment,
		Request:   input.Request,
		Invoice:   input.Invoice,
		StartedAt: workflow.Now(ctx),
	}

	err := workflow.SetQueryHandler(ctx, QueryStatus, func() (*SettleDonationResult, error) {
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	var a *Activities

	// Step 1: wait for the user's payment. The poller bounds itself by
	// PaymentTimeout; the activity timeout only guards against a lost worker.
	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: input.PaymentTimeout + time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var awaitResult *AwaitConfirmationResult
	err = workflow.ExecuteActivity(awaitCtx, a.AwaitConfirmation, AwaitConfirmationInput{
		UserID:  input.Request.UserID,
		Invoice: input.Invoice,
	}).Get(ctx, &awaitResult)

	// Reporting must happen even when the workflow was cancelled.
	finalCtx, _ := workflow.NewDisconnectedContext(ctx)

	switch {
	case err != nil && (temporal.IsCanceledError(err) || ctx.Err() != nil):
		logger.Info("settlement cancelled while waiting for payment")
		return finish(finalCtx, result, donation.StatusCancelled, "cancelled while waiting for payment"), nil
	case err != nil:
		logger.Error("payment wait failed", "error", err)
		return finish(finalCtx, result, donation.StatusTimedOut, err.Error()), nil
	case awaitResult.Confirmation == blink.ConfirmationExpired:
		return finish(finalCtx, result, donation.StatusExpired, "invoice expired"), nil
	case awaitResult.Confirmation == blink.ConfirmationCancelled:
		return finish(finalCtx, result, donation.StatusCancelled, "cancelled while waiting for payment"), nil
	case !awaitResult.Confirmation.Paid():
		return finish(finalCtx, result, donation.StatusTimedOut, "payment not confirmed before deadline"), nil
	}

	logger.Info("donation payment received", "payment_hash", input.Invoice.PaymentHash)

	// Step 2: forward exactly once.
	result.Stage = StageForwarding
	forwardCtx := workflow.WithActivityOptions(finalCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var forwardResult *ForwardDonationResult
	err = workflow.ExecuteActivity(forwardCtx, a.ForwardDonation, ForwardDonationInput{
		Request: input.Request,
		Invoice: input.Invoice,
	}).Get(finalCtx, &forwardResult)
	if err != nil {
		logger.Error("forward activity failed, funds held", "error", err)
		return finish(finalCtx, result, donation.StatusHeld, err.Error()), nil
	}
	result.Attempt = &forwardResult.Attempt
	if forwardResult.Held {
		return finish(finalCtx, result, donation.StatusHeld, forwardResult.Error), nil
	}

	// Step 3: debit the ledger. The commit is idempotent on the collected invoice.
	result.Stage = StageCommitting
	commitCtx := workflow.WithActivityOptions(finalCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeBalanceConflict},
		},
	})

	var commitResult *CommitDonationResult
	err = workflow.ExecuteActivity(commitCtx, a.CommitDonation, CommitDonationInput{
		Request: input.Request,
		Invoice: input.Invoice,
		Attempt: forwardResult.Attempt,
	}).Get(finalCtx, &commitResult)
	if err != nil {
		logger.Error("donation forwarded but ledger commit failed", "error", err)
		return finish(finalCtx, result, donation.StatusLedgerConflict, err.Error()), nil
	}
	result.DonationID = commitResult.DonationID

	logger.Info("donation completed",
		"user_id", input.Request.UserID,
		"amount_sats", input.Request.AmountSats,
		"donation_id", commitResult.DonationID,
	)
	return finish(finalCtx, result, donation.StatusCompleted, ""), nil
}

// finish sets the final status and reports it. A reporting failure does not
// change the outcome.
func finish(ctx workflow.Context, result *SettleDonationResult, status donation.Status, errMsg string) *SettleDonationResult {
	result.Status = status
	result.Error = errMsg
	result.Stage = StageFinished
	result.FinishedAt = workflow.Now(ctx)
	result.Message = result.toDonationResult().Message()

	reportCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var a *Activities
	if err := workflow.ExecuteActivity(reportCtx, a.ReportOutcome, *result).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("failed to report settlement outcome", "error", err)
	}
	return result
}
