package blink

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/satsforward/service/metrics"
)

// Confirmation is the outcome of waiting for an invoice to be paid.
type Confirmation string

const (
	ConfirmationPaid      Confirmation = "PAID"
	ConfirmationExpired   Confirmation = "EXPIRED"
	ConfirmationTimedOut  Confirmation = "TIMED_OUT"
	ConfirmationCancelled Confirmation = "CANCELLED"
)

// Paid reports whether the invoice was paid. Every other confirmation means not paid.
func (c Confirmation) Paid() bool {
	return c == ConfirmationPaid
}

// StatusChecker reports the current status of an invoice. *Client implements it.
type StatusChecker interface {
	InvoiceStatus(ctx context.Context, paymentRequest string) (InvoiceStatus, error)
}

// Poller waits for an invoice to reach a terminal status.
type Poller struct {
	checker  StatusChecker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller that checks every interval for at most timeout.
// logger and m may be nil.
func NewPoller(checker StatusChecker, interval, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "poller"),
		metrics:  m,
		sleep:    sleepContext,
	}
}

// Attempts is the number of status checks Await makes before timing out.
func (p *Poller) Attempts() int {
	if p.interval <= 0 {
		return 1
	}
	n := int(p.timeout / p.interval)
	if n < 1 {
		return 1
	}
	return n
}

// Await polls until the invoice is PAID or EXPIRED, the attempt budget is spent, or
// ctx is done. Status check failures are logged and polling continues. On
// cancellation it returns ConfirmationCancelled with ctx.Err() and makes no further calls.
func (p *Poller) Await(ctx context.Context, paymentRequest string) (Confirmation, error) {
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ConfirmationCancelled, err
		}

		status, err := p.checker.InvoiceStatus(ctx, paymentRequest)
		if err != nil {
			if ctx.Err() != nil {
				return ConfirmationCancelled, ctx.Err()
			}
			p.logger.WarnContext(ctx, "payment status check failed",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err,
			)
			status = StatusUnknown
		}
		if p.metrics != nil {
			p.metrics.RecordPaymentCheck(string(status))
		}

		switch status {
		case StatusPaid:
			p.logger.InfoContext(ctx, "invoice paid", "attempt", attempt)
			return ConfirmationPaid, nil
		case StatusExpired:
			p.logger.InfoContext(ctx, "invoice expired", "attempt", attempt)
			return ConfirmationExpired, nil
		}

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return ConfirmationCancelled, err
		}
	}

	p.logger.InfoContext(ctx, "invoice not paid before deadline",
		"attempts", attempts,
		"timeout", p.timeout,
	)
	return ConfirmationTimedOut, nil
}
