package blink

import (
	"context"
)

const invoiceStatusQuery = `query LnInvoicePaymentStatus($input: LnInvoicePaymentStatusByPaymentRequestInput!) {
  lnInvoicePaymentStatusByPaymentRequest(input: $input) {
    paymentHash
    paymentPreimage
    paymentRequest
    status
  }
}`

// InvoiceStatus is the remote status of an incoming invoice.
type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "PENDING"
	StatusPaid    InvoiceStatus = "PAID"
	StatusExpired InvoiceStatus = "EXPIRED"
	// StatusUnknown covers a missing or unrecognized status. Pollers treat it as transient.
	StatusUnknown InvoiceStatus = "UNKNOWN"
)

// Terminal reports whether no further status change is expected.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

type invoiceStatusData struct {
	Status *struct {
		PaymentHash     string `json:"paymentHash"`
		PaymentPreimage string `json:"paymentPreimage"`
		PaymentRequest  string `json:"paymentRequest"`
		Status          string `json:"status"`
	} `json:"lnInvoicePaymentStatusByPaymentRequest"`
}

// InvoiceStatus queries the status of paymentRequest with a single attempt.
func (c *Client) InvoiceStatus(ctx context.Context, paymentRequest string) (InvoiceStatus, error) {
	vars := map[string]any{
		"input": map[string]any{
			"paymentRequest": paymentRequest,
		},
	}

	var data invoiceStatusData
	if err := c.Do(ctx, "LnInvoicePaymentStatus", invoiceStatusQuery, vars, &data, WithAttempts(1)); err != nil {
		return StatusUnknown, err
	}
	if data.Status == nil {
		return StatusUnknown, nil
	}

	switch s := InvoiceStatus(data.Status.Status); s {
	case StatusPending, StatusPaid, StatusExpired:
		return s, nil
	default:
		return StatusUnknown, nil
	}
}
