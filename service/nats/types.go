package nats

import (
	"time"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

// Event types published on the donations stream.
const (
	EventInvoiceIssued = "invoice_issued"
	EventOutcome       = "outcome"
)

// DonationEvent is published to the subject "donations.{user_id}" in JetStream.
// Presentation layers subscribe to show invoices and relay outcomes.
type DonationEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`

	// Settlement details
	AmountSats     int64  `json:"amount_sats"`
	Destination    string `json:"destination"`
	PaymentRequest string `json:"payment_request,omitempty"`
	PaymentHash    string `json:"payment_hash,omitempty"`

	// Outcome details, set on EventOutcome
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	FeeSats int64  `json:"fee_sats,omitempty"`
	Error   string `json:"error,omitempty"`

	// Correlation
	WorkflowID string `json:"workflow_id,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// InvoiceIssuedEvent builds the event announcing an invoice for the user to pay.
func InvoiceIssuedEvent(req donation.Request, inv *blink.Invoice) *DonationEvent {
	return &DonationEvent{
		Type:           EventInvoiceIssued,
		UserID:         req.UserID,
		AmountSats:     req.AmountSats,
		Destination:    req.Destination,
		PaymentRequest: inv.PaymentRequest,
		PaymentHash:    inv.PaymentHash,
		PublishedAt:    time.Now().UTC(),
	}
}

// FromResult converts a settlement result to an outcome event.
func FromResult(res *donation.Result) *DonationEvent {
	event := &DonationEvent{
		Type:        EventOutcome,
		UserID:      res.Request.UserID,
		AmountSats:  res.Request.AmountSats,
		Destination: res.Request.Destination,
		Status:      string(res.Status),
		Message:     res.Message(),
		PublishedAt: time.Now().UTC(),
	}
	if res.Invoice != nil {
		event.PaymentRequest = res.Invoice.PaymentRequest
		event.PaymentHash = res.Invoice.PaymentHash
	}
	if res.Attempt != nil {
		event.FeeSats = res.Attempt.FeeSats
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	return event
}
