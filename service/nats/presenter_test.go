package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "donations.42", Subject(42))
}

func TestEventPresenter(t *testing.T) {
	pub := NewMockPublisher()
	p := &EventPresenter{Publisher: pub}
	req := donation.Request{UserID: 42, AmountSats: 5000, Destination: "addr@example.com"}
	inv := &blink.Invoice{PaymentRequest: "lnbc1", PaymentHash: "hash", AmountSats: 5000}

	require.NoError(t, p.PresentInvoice(context.Background(), req, inv))
	require.NoError(t, p.Notify(context.Background(), &donation.Result{
		Status:  donation.StatusHeld,
		Request: req,
		Invoice: inv,
		Attempt: &donation.TransferAttempt{Destination: req.Destination, FeeSats: 3, Status: "FAILURE"},
		Err:     errors.New("payment status FAILURE"),
	}))

	events := pub.GetPublishedEventsForUser(42)
	require.Len(t, events, 2)

	assert.Equal(t, EventInvoiceIssued, events[0].Type)
	assert.Equal(t, "lnbc1", events[0].PaymentRequest)
	assert.Equal(t, int64(5000), events[0].AmountSats)

	assert.Equal(t, EventOutcome, events[1].Type)
	assert.Equal(t, "held", events[1].Status)
	assert.Equal(t, int64(3), events[1].FeeSats)
	assert.Contains(t, events[1].Message, "held")
	assert.Equal(t, "payment status FAILURE", events[1].Error)
}

func TestEventPresenter_PublishFailure(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	next := &recordingPresenter{}
	p := &EventPresenter{Publisher: pub, Next: next}

	req := donation.Request{UserID: 1, AmountSats: 100}
	inv := &blink.Invoice{PaymentRequest: "lnbc1", AmountSats: 100}

	require.NoError(t, p.PresentInvoice(context.Background(), req, inv))
	require.NoError(t, p.Notify(context.Background(), &donation.Result{Status: donation.StatusCompleted, Request: req, Invoice: inv}))

	assert.Zero(t, pub.GetPublishedEventCount())
	assert.Equal(t, []string{"lnbc1"}, next.invoices)
	assert.Equal(t, []donation.Status{donation.StatusCompleted}, next.outcomes)
}

func TestEventPresenter_NextErrorIsReturned(t *testing.T) {
	pub := NewMockPublisher()
	p := &EventPresenter{Publisher: pub, Next: &recordingPresenter{err: errors.New("terminal closed")}}

	err := p.PresentInvoice(context.Background(), donation.Request{UserID: 1}, &blink.Invoice{PaymentRequest: "lnbc1"})
	assert.ErrorContains(t, err, "terminal closed")
	assert.Equal(t, 1, pub.GetPublishedEventCount())
}

type recordingPresenter struct {
	invoices []string
	outcomes []donation.Status
	err      error
}

func (r *recordingPresenter) PresentInvoice(ctx context.Context, req donation.Request, inv *blink.Invoice) error {
	r.invoices = append(r.invoices, inv.PaymentRequest)
	return r.err
}

func (r *recordingPresenter) Notify(ctx context.Context, res *donation.Result) error {
	r.outcomes = append(r.outcomes, res.Status)
	return r.err
}
