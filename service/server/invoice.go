package server

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/donation"
)

// donationInvoice is what a user needs to pay a collection invoice.
type donationInvoice struct {
	RequestID      string    `json:"request_id"`      // Unique request ID (UUID)
	WorkflowID     string    `json:"workflow_id"`     // Settlement workflow
	UserID         int64     `json:"user_id"`
	AmountSats     int64     `json:"amount_sats"`
	AmountBTC      string    `json:"amount_btc"`      // Human-readable BTC amount
	Destination    string    `json:"destination"`     // Lightning address receiving the donation
	Memo           string    `json:"memo,omitempty"`
	PaymentRequest string    `json:"payment_request"` // BOLT11 invoice to pay
	PaymentHash    string    `json:"payment_hash"`
	LightningURI   string    `json:"lightning_uri"`   // For wallet apps
	QRCodeData     string    `json:"qr_code_data"`    // Base64 encoded QR code image
	ExpiresAt      time.Time `json:"expires_at"`      // Payment deadline
	Timeout        string    `json:"timeout"`
	StatusURL      string    `json:"status_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// newDonationInvoice builds the payment view of an issued invoice.
func newDonationInvoice(req donation.Request, inv *blink.Invoice, workflowID string, timeout time.Duration, now time.Time) donationInvoice {
	uri := lightningURI(inv.PaymentRequest)

	// QR code is optional; the invoice text is enough to pay.
	qrCodeData, err := generateQRCode(strings.ToUpper(uri))
	if err != nil {
		qrCodeData = ""
	}

	return donationInvoice{
		RequestID:      uuid.New().String(),
		WorkflowID:     workflowID,
		UserID:         req.UserID,
		AmountSats:     inv.AmountSats,
		AmountBTC:      satsToBTC(inv.AmountSats),
		Destination:    req.Destination,
		Memo:           inv.Memo,
		PaymentRequest: inv.PaymentRequest,
		PaymentHash:    inv.PaymentHash,
		LightningURI:   uri,
		QRCodeData:     qrCodeData,
		ExpiresAt:      now.Add(timeout),
		Timeout:        timeout.String(),
		StatusURL:      fmt.Sprintf("/api/v1/donations/%s", workflowID),
		CreatedAt:      now,
	}
}

// lightningURI is the BIP21-style URI wallets open for a BOLT11 invoice.
func lightningURI(paymentRequest string) string {
	return "lightning:" + paymentRequest
}

// satsToBTC formats sats as a fixed 8-decimal BTC amount.
func satsToBTC(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

// generateQRCode creates a QR code image and returns it as base64-encoded PNG.
// Upper-case input lets the encoder use the denser alphanumeric mode. Low error
// correction matches the terminal rendering and keeps long invoices scannable.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
