// Package donation drives the collect-then-forward settlement of a user's balance:
// issue an invoice, wait for the user to pay it, forward the same amount to the
// donation address, then debit the ledger. The ledger changes only after the
// forward succeeds; a failure after collection leaves the funds held in the
// custodial wallet.
package donation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/metrics"
)

// Config holds the settlement policy.
type Config struct {
	Destination string
	Memo        string
	MinSats     int64
	MaxSats     int64
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Issuer   Issuer
	Waiter   Waiter
	Resolver AddressResolver
	Prober   FeeProber
	Payer    Payer
	Ledger   Ledger
}

// Orchestrator runs settlements. It is safe for concurrent use and allows one
// in-process settlement per user at a time.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// New creates an Orchestrator. logger and m may be nil.
func New(cfg Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("component", "donation"),
		metrics:  m,
		inFlight: make(map[int64]struct{}),
	}
}

// Prepare turns the user's whole balance into a settlement request.
func (o *Orchestrator) Prepare(ctx context.Context, userID int64, username string) (Request, error) {
	balance, err := o.deps.Ledger.ReadBalance(ctx, userID)
	if err != nil {
		return Request{}, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance <= 0 {
		return Request{}, ErrNothingToDonate
	}
	if balance < o.cfg.MinSats {
		return Request{}, &AmountError{Amount: balance, Limit: o.cfg.MinSats, Kind: ErrAmountTooSmall}
	}
	if o.cfg.MaxSats > 0 && balance > o.cfg.MaxSats {
		return Request{}, &AmountError{Amount: balance, Limit: o.cfg.MaxSats, Kind: ErrAmountTooLarge}
	}

	return Request{
		UserID:      userID,
		Username:    username,
		AmountSats:  balance,
		Destination: o.cfg.Destination,
		Memo:        o.cfg.Memo,
	}, nil
}

// Issue creates the invoice the user pays. An invoice for any other amount than
// the request fails closed.
func (o *Orchestrator) Issue(ctx context.Context, req Request) (*blink.Invoice, error) {
	inv, err := o.deps.Issuer.CreateInvoice(ctx, req.AmountSats, req.Memo)
	if err != nil {
		return nil, err
	}
	if inv.AmountSats != req.AmountSats {
		return nil, fmt.Errorf("%w: requested %d sats, invoiced %d", ErrAmountMismatch, req.AmountSats, inv.AmountSats)
	}

	o.logger.InfoContext(ctx, "issued donation invoice",
		"user_id", req.UserID,
		"amount_sats", req.AmountSats,
		"payment_hash", inv.PaymentHash,
	)
	return inv, nil
}

// AwaitPayment waits for the user to pay inv.
func (o *Orchestrator) AwaitPayment(ctx context.Context, inv *blink.Invoice) (blink.Confirmation, error) {
	return o.deps.Waiter.Await(ctx, inv.PaymentRequest)
}

// Forward sends the collected amount to the destination address. Once started it
// runs to completion regardless of ctx cancellation because funds may move.
// Any failure is returned as a *HeldFundsError.
func (o *Orchestrator) Forward(ctx context.Context, req Request, inv *blink.Invoice) (TransferAttempt, error) {
	ctx = context.WithoutCancel(ctx)
	attempt := TransferAttempt{Destination: req.Destination}

	if inv == nil || inv.AmountSats != req.AmountSats {
		return attempt, &HeldFundsError{Stage: "verify", Attempt: attempt, Err: ErrAmountMismatch}
	}

	pr, err := o.deps.Resolver.Resolve(ctx, req.Destination, req.AmountSats)
	if err != nil {
		return attempt, &HeldFundsError{Stage: "resolve", Attempt: attempt, Err: err}
	}
	attempt.Invoice = pr

	attempt.FeeSats = o.deps.Prober.ProbeFee(ctx, pr)

	status, err := o.deps.Payer.PayInvoice(ctx, pr)
	attempt.Status = string(status)
	if err != nil {
		return attempt, &HeldFundsError{Stage: "pay", Attempt: attempt, Err: err}
	}
	if !attempt.Succeeded() {
		return attempt, &HeldFundsError{Stage: "pay", Attempt: attempt,
			Err: fmt.Errorf("payment status %q", status)}
	}

	o.logger.InfoContext(ctx, "forwarded donation",
		"user_id", req.UserID,
		"destination", req.Destination,
		"amount_sats", req.AmountSats,
		"fee_sats", attempt.FeeSats,
	)
	return attempt, nil
}

// Commit records a successful forward in the ledger with a single conditional
// debit. Committing the same invoice twice is a no-op.
func (o *Orchestrator) Commit(ctx context.Context, req Request, inv *blink.Invoice, attempt TransferAttempt) (*db.Donation, error) {
	if !attempt.Succeeded() {
		return nil, fmt.Errorf("refusing to commit a transfer with status %q", attempt.Status)
	}
	ctx = context.WithoutCancel(ctx)

	d, err := o.deps.Ledger.DebitAndRecord(ctx, db.DebitParams{
		UserID:             req.UserID,
		AmountSats:         req.AmountSats,
		FeeSats:            attempt.FeeSats,
		LightningAddress:   req.Destination,
		PaymentRequest:     inv.PaymentRequest,
		PaymentHash:        inv.PaymentHash,
		DestinationInvoice: attempt.Invoice,
		DonationType:       db.DonationTypeManual,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit donation: %w", err)
	}
	return d, nil
}

// Donate prepares and settles the user's whole balance.
func (o *Orchestrator) Donate(ctx context.Context, userID int64, username string, p Presenter) *Result {
	req, err := o.Prepare(ctx, userID, username)
	if err != nil {
		res := &Result{Status: StatusRejected, Request: Request{UserID: userID, Username: username}, Err: err}
		o.notify(ctx, p, res)
		return res
	}
	return o.Settle(ctx, req, p)
}

// Settle runs one settlement to a final outcome and notifies p. Cancelling ctx
// while waiting for payment ends the settlement without forwarding.
func (o *Orchestrator) Settle(ctx context.Context, req Request, p Presenter) *Result {
	if !o.acquire(req.UserID) {
		res := &Result{Status: StatusRejected, Request: req, Err: ErrSettlementInProgress}
		o.notify(ctx, p, res)
		return res
	}
	defer o.release(req.UserID)

	start := time.Now()
	if o.metrics != nil {
		o.metrics.SettlementStarted()
		defer o.metrics.SettlementFinished()
	}

	res := o.settle(ctx, req, p)

	if o.metrics != nil {
		o.metrics.RecordDonation(string(res.Status), req.AmountSats, time.Since(start).Seconds())
	}
	o.logger.InfoContext(ctx, "settlement finished",
		"user_id", req.UserID,
		"amount_sats", req.AmountSats,
		"status", res.Status,
		"error", res.Err,
	)
	o.notify(ctx, p, res)
	return res
}

func (o *Orchestrator) settle(ctx context.Context, req Request, p Presenter) *Result {
	res := &Result{Request: req}

	inv, err := o.Issue(ctx, req)
	if err != nil {
		res.Status, res.Err = StatusIssueFailed, err
		return res
	}
	res.Invoice = inv

	if p != nil {
		if err := p.PresentInvoice(ctx, req, inv); err != nil {
			res.Status, res.Err = StatusIssueFailed, fmt.Errorf("failed to present invoice: %w", err)
			return res
		}
	}

	conf, err := o.AwaitPayment(ctx, inv)
	switch conf {
	case blink.ConfirmationPaid:
	case blink.ConfirmationExpired:
		res.Status, res.Err = StatusExpired, errors.New("invoice expired")
		return res
	case blink.ConfirmationCancelled:
		res.Status, res.Err = StatusCancelled, err
		if res.Err == nil {
			res.Err = context.Canceled
		}
		return res
	default:
		res.Status, res.Err = StatusTimedOut, errors.New("payment not confirmed before deadline")
		return res
	}

	attempt, err := o.Forward(ctx, req, inv)
	res.Attempt = &attempt
	if err != nil {
		o.logger.ErrorContext(ctx, "forwarding failed, funds held",
			"user_id", req.UserID,
			"amount_sats", req.AmountSats,
			"payment_hash", inv.PaymentHash,
			"error", err,
		)
		res.Status, res.Err = StatusHeld, err
		return res
	}

	d, err := o.Commit(ctx, req, inv, attempt)
	if err != nil {
		o.logger.ErrorContext(ctx, "donation forwarded but ledger commit failed",
			"user_id", req.UserID,
			"amount_sats", req.AmountSats,
			"payment_hash", inv.PaymentHash,
			"error", err,
		)
		res.Status, res.Err = StatusLedgerConflict, err
		return res
	}

	res.Status, res.Donation = StatusCompleted, d
	return res
}

func (o *Orchestrator) notify(ctx context.Context, p Presenter, res *Result) {
	if p == nil {
		return
	}
	if err := p.Notify(context.WithoutCancel(ctx), res); err != nil {
		o.logger.WarnContext(ctx, "failed to notify user", "user_id", res.Request.UserID, "error", err)
	}
}

func (o *Orchestrator) acquire(userID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[userID]; busy {
		return false
	}
	o.inFlight[userID] = struct{}{}
	return true
}

func (o *Orchestrator) release(userID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, userID)
}
