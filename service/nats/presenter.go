package nats

import (
	"context"
	"log/slog"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

// EventPresenter relays invoices and outcomes to subscribers as donation events.
// Publishing is best effort: failures are logged and Next is always called.
type EventPresenter struct {
	Publisher Publisher
	Next      donation.Presenter
	Logger    *slog.Logger
}

// PresentInvoice publishes an invoice_issued event.
func (p *EventPresenter) PresentInvoice(ctx context.Context, req donation.Request, inv *blink.Invoice) error {
	p.publish(ctx, InvoiceIssuedEvent(req, inv))
	if p.Next != nil {
		return p.Next.PresentInvoice(ctx, req, inv)
	}
	return nil
}

// Notify publishes an outcome event.
func (p *EventPresenter) Notify(ctx context.Context, res *donation.Result) error {
	p.publish(ctx, FromResult(res))
	if p.Next != nil {
		return p.Next.Notify(ctx, res)
	}
	return nil
}

func (p *EventPresenter) publish(ctx context.Context, event *DonationEvent) {
	if err := p.Publisher.PublishDonationEvent(ctx, event); err != nil {
		logger := p.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "failed to publish donation event",
			"type", event.Type,
			"user_id", event.UserID,
			"error", err,
		)
	}
}
