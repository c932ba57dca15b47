package blink

import (
	"context"
)

const feeProbeMutation = `mutation LnInvoiceFeeProbe($input: LnInvoiceFeeProbeInput!) {
  lnInvoiceFeeProbe(input: $input) {
    errors {
      message
    }
    amount
  }
}`

type feeProbeData struct {
	LnInvoiceFeeProbe struct {
		Errors []domainError `json:"errors"`
		Amount *int64        `json:"amount"`
	} `json:"lnInvoiceFeeProbe"`
}

// ProbeFee estimates the routing fee in sats for paying paymentRequest.
// It makes a single attempt and returns 0 on any failure; the estimate is advisory.
func (c *Client) ProbeFee(ctx context.Context, paymentRequest string) int64 {
	fee, err := c.probeFee(ctx, paymentRequest)
	if err != nil {
		c.logger.WarnContext(ctx, "fee probe failed, assuming zero fee", "error", err)
		if c.metrics != nil {
			c.metrics.RecordFeeProbe("error", 0)
		}
		return 0
	}
	if c.metrics != nil {
		c.metrics.RecordFeeProbe("success", fee)
	}
	return fee
}

func (c *Client) probeFee(ctx context.Context, paymentRequest string) (int64, error) {
	walletID, err := c.WalletID(ctx)
	if err != nil {
		return 0, err
	}

	vars := map[string]any{
		"input": map[string]any{
			"walletId":       walletID,
			"paymentRequest": paymentRequest,
		},
	}

	var data feeProbeData
	if err := c.Do(ctx, "LnInvoiceFeeProbe", feeProbeMutation, vars, &data, WithAttempts(1)); err != nil {
		return 0, err
	}

	payload := data.LnInvoiceFeeProbe
	if len(payload.Errors) > 0 {
		return 0, &PaymentError{Message: joinDomainErrors(payload.Errors)}
	}
	if payload.Amount == nil {
		return 0, nil
	}
	return *payload.Amount, nil
}
