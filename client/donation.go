package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DonationInvoice is returned when a donation starts. The user pays PaymentRequest.
type DonationInvoice struct {
	RequestID      string    `json:"request_id"`
	WorkflowID     string    `json:"workflow_id"`
	UserID         int64     `json:"user_id"`
	AmountSats     int64     `json:"amount_sats"`
	AmountBTC      string    `json:"amount_btc"`
	Destination    string    `json:"destination"`
	Memo           string    `json:"memo,omitempty"`
	PaymentRequest string    `json:"payment_request"`
	PaymentHash    string    `json:"payment_hash"`
	LightningURI   string    `json:"lightning_uri"`
	QRCodeData     string    `json:"qr_code_data"`
	ExpiresAt      time.Time `json:"expires_at"`
	Timeout        string    `json:"timeout"`
	StatusURL      string    `json:"status_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transfer is the forwarding attempt of a settlement.
type Transfer struct {
	Destination string `json:"destination"`
	Invoice     string `json:"invoice,omitempty"`
	FeeSats     int64  `json:"fee_sats"`
	Status      string `json:"status,omitempty"`
}

// Settlement is the state of a donation. Status is empty until Stage is "finished".
type Settlement struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status,omitempty"`
	Stage      string `json:"stage"`
	Message    string `json:"message,omitempty"`
	Request    struct {
		UserID      int64  `json:"user_id"`
		AmountSats  int64  `json:"amount_sats"`
		Destination string `json:"destination"`
	} `json:"request"`
	Invoice struct {
		PaymentRequest string `json:"payment_request"`
		PaymentHash    string `json:"payment_hash"`
		AmountSats     int64  `json:"amount_sats"`
	} `json:"invoice"`
	Attempt    *Transfer `json:"attempt,omitempty"`
	DonationID int64     `json:"donation_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Finished reports whether the settlement reached a final status.
func (s *Settlement) Finished() bool {
	return s.Stage == "finished"
}

// StartDonation asks the server to settle the user's whole balance. The returned
// invoice must be paid before the server's payment timeout.
func (c *Client) StartDonation(ctx context.Context, userID int64, username string) (*DonationInvoice, error) {
	var inv DonationInvoice
	err := c.doJSON(ctx, "POST", "/api/v1/donations", map[string]interface{}{
		"user_id":  userID,
		"username": username,
	}, http.StatusCreated, &inv)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("donation started", "user_id", userID, "workflow_id", inv.WorkflowID, "amount_sats", inv.AmountSats)
	return &inv, nil
}

// Status returns the current state of a donation.
func (c *Client) Status(ctx context.Context, workflowID string) (*Settlement, error) {
	var s Settlement
	path := "/api/v1/donations/" + url.PathEscape(workflowID)
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Cancel requests cancellation of a donation that is still waiting for payment.
func (c *Client) Cancel(ctx context.Context, workflowID string) error {
	path := "/api/v1/donations/" + url.PathEscape(workflowID)
	if err := c.doJSON(ctx, "DELETE", path, nil, http.StatusAccepted, nil); err != nil {
		return err
	}
	c.logger.Debug("donation cancel requested", "workflow_id", workflowID)
	return nil
}

// Await polls Status every interval until the donation finishes or ctx is done.
func (c *Client) Await(ctx context.Context, workflowID string, interval time.Duration) (*Settlement, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := c.Status(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if s.Finished() {
			return s, nil
		}
		c.logger.Debug("donation still running", "workflow_id", workflowID, "stage", s.Stage)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped waiting for %s: %w", workflowID, ctx.Err())
		case <-ticker.C:
		}
	}
}
