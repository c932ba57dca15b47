package blink

import (
	"context"
	"fmt"
)

const invoiceCreateMutation = `mutation LnInvoiceCreate($input: LnInvoiceCreateInput!) {
  lnInvoiceCreate(input: $input) {
    invoice {
      paymentRequest
      paymentHash
      satoshis
    }
    errors {
      message
    }
  }
}`

// Invoice is an incoming Lightning invoice issued by the custodial wallet.
type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
	AmountSats     int64  `json:"amount_sats"`
	Memo           string `json:"memo,omitempty"`
}

type invoiceCreateData struct {
	LnInvoiceCreate struct {
		Invoice *struct {
			PaymentRequest string `json:"paymentRequest"`
			PaymentHash    string `json:"paymentHash"`
			Satoshis       int64  `json:"satoshis"`
		} `json:"invoice"`
		Errors []domainError `json:"errors"`
	} `json:"lnInvoiceCreate"`
}

// CreateInvoice issues an invoice for amountSats on the account wallet.
//
// Amounts must be positive; nothing is coerced. An empty memo is replaced with the
// client's default memo. Retries happen at the transport level, so a lost response
// followed by a retry can leave an extra unpaid invoice on the remote side.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	if amountSats <= 0 {
		return nil, &InvalidAmountError{Amount: amountSats}
	}
	if memo == "" {
		memo = c.defaultMemo
	}

	walletID, err := c.WalletID(ctx)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"input": map[string]any{
			"walletId": walletID,
			"amount":   amountSats,
			"memo":     memo,
		},
	}

	var data invoiceCreateData
	if err := c.Do(ctx, "LnInvoiceCreate", invoiceCreateMutation, vars, &data); err != nil {
		return nil, err
	}

	payload := data.LnInvoiceCreate
	if len(payload.Errors) > 0 {
		return nil, &IssuanceError{Message: joinDomainErrors(payload.Errors)}
	}
	if payload.Invoice == nil || payload.Invoice.PaymentRequest == "" {
		return nil, &IssuanceError{Message: "response did not contain an invoice"}
	}

	inv := &Invoice{
		PaymentRequest: payload.Invoice.PaymentRequest,
		PaymentHash:    payload.Invoice.PaymentHash,
		AmountSats:     payload.Invoice.Satoshis,
		Memo:           memo,
	}

	c.logger.InfoContext(ctx, "invoice created",
		"payment_hash", inv.PaymentHash,
		"amount_sats", inv.AmountSats,
	)

	return inv, nil
}

// String returns the payment request.
func (i *Invoice) String() string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d sats)", i.PaymentRequest, i.AmountSats)
}
