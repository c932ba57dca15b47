package blink

import (
	"context"
)

const paymentSendMutation = `mutation LnInvoicePaymentSend($input: LnInvoicePaymentInput!) {
  lnInvoicePaymentSend(input: $input) {
    status
    errors {
      message
      path
      code
    }
  }
}`

// PaymentStatus is the status Blink reports for an outbound payment.
type PaymentStatus string

const (
	PaymentSuccess     PaymentStatus = "SUCCESS"
	PaymentPending     PaymentStatus = "PENDING"
	PaymentFailure     PaymentStatus = "FAILURE"
	PaymentAlreadyPaid PaymentStatus = "ALREADY_PAID"
)

type paymentSendData struct {
	LnInvoicePaymentSend *struct {
		Status string        `json:"status"`
		Errors []domainError `json:"errors"`
	} `json:"lnInvoicePaymentSend"`
}

// PayInvoice pays paymentRequest from the account wallet and returns the remote
// status verbatim. Only PaymentSuccess means the funds left the wallet.
// Domain errors are returned as *PaymentError and never retried.
func (c *Client) PayInvoice(ctx context.Context, paymentRequest string) (PaymentStatus, error) {
	walletID, err := c.WalletID(ctx)
	if err != nil {
		return "", &PaymentError{Message: "wallet unavailable", Err: err}
	}

	vars := map[string]any{
		"input": map[string]any{
			"walletId":       walletID,
			"paymentRequest": paymentRequest,
		},
	}

	var data paymentSendData
	if err := c.Do(ctx, "LnInvoicePaymentSend", paymentSendMutation, vars, &data); err != nil {
		return "", &PaymentError{Message: "transport failure", Err: err}
	}

	payload := data.LnInvoicePaymentSend
	if payload == nil {
		return "", &PaymentError{Message: "response did not contain a payment result"}
	}
	if len(payload.Errors) > 0 {
		return PaymentStatus(payload.Status), &PaymentError{
			Message: joinDomainErrors(payload.Errors),
			Code:    payload.Errors[0].Code,
		}
	}

	status := PaymentStatus(payload.Status)
	c.logger.InfoContext(ctx, "payment sent", "status", status)
	return status, nil
}
