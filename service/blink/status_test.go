package blink

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceStatus(t *testing.T) {
	tests := []struct {
		name   string
		remote any
		want   InvoiceStatus
	}{
		{"paid", map[string]any{"status": "PAID"}, StatusPaid},
		{"expired", map[string]any{"status": "EXPIRED"}, StatusExpired},
		{"pending", map[string]any{"status": "PENDING"}, StatusPending},
		{"unrecognized", map[string]any{"status": "SETTLING"}, StatusUnknown},
		{"missing payload", nil, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBlink(t)
			f.on("lnInvoicePaymentStatusByPaymentRequest", func(map[string]any) (int, any) {
				return http.StatusOK, dataResponse(map[string]any{
					"lnInvoicePaymentStatusByPaymentRequest": tt.remote,
				})
			})
			c, _ := newTestClient(t, f)

			status, err := c.InvoiceStatus(context.Background(), "lnbc1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestInvoiceStatus_SingleAttempt(t *testing.T) {
	f := newFakeBlink(t)
	f.on("lnInvoicePaymentStatusByPaymentRequest", func(map[string]any) (int, any) {
		return http.StatusInternalServerError, nil
	})
	c, delays := newTestClient(t, f)

	status, err := c.InvoiceStatus(context.Background(), "lnbc1")
	require.Error(t, err)
	assert.Equal(t, StatusUnknown, status)
	assert.Equal(t, 1, f.count("lnInvoicePaymentStatusByPaymentRequest"))
	assert.Empty(t, *delays)
}
