package blink

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeBlink) onInvoiceCreate(pr string) {
	f.on("lnInvoiceCreate", func(vars map[string]any) (int, any) {
		input := vars["input"].(map[string]any)
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoiceCreate": map[string]any{
				"invoice": map[string]any{
					"paymentRequest": pr,
					"paymentHash":    "hash-" + pr,
					"satoshis":       input["amount"],
				},
				"errors": []any{},
			},
		})
	})
}

func TestCreateInvoice(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	var gotInput map[string]any
	f.on("lnInvoiceCreate", func(vars map[string]any) (int, any) {
		gotInput = vars["input"].(map[string]any)
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoiceCreate": map[string]any{
				"invoice": map[string]any{
					"paymentRequest": "lnbc50u1ptest",
					"paymentHash":    "abc123",
					"satoshis":       5000,
				},
				"errors": []any{},
			},
		})
	})
	c, _ := newTestClient(t, f, WithDefaultMemo("default memo"))

	inv, err := c.CreateInvoice(context.Background(), 5000, "")
	require.NoError(t, err)

	assert.Equal(t, "lnbc50u1ptest", inv.PaymentRequest)
	assert.Equal(t, "abc123", inv.PaymentHash)
	assert.Equal(t, int64(5000), inv.AmountSats)
	assert.Equal(t, "default memo", inv.Memo)

	assert.Equal(t, "btc-wallet", gotInput["walletId"])
	assert.Equal(t, float64(5000), gotInput["amount"])
	assert.Equal(t, "default memo", gotInput["memo"])
}

func TestCreateInvoice_InvalidAmount(t *testing.T) {
	for _, amount := range []int64{0, -1, -5000} {
		f := newFakeBlink(t)
		f.onWallets()
		c, _ := newTestClient(t, f)

		_, err := c.CreateInvoice(context.Background(), amount, "memo")
		require.Error(t, err)

		var iae *InvalidAmountError
		require.True(t, errors.As(err, &iae))
		assert.Equal(t, amount, iae.Amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Zero(t, f.count("defaultAccount"), "no network call for invalid amounts")
	}
}

func TestCreateInvoice_DomainError(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	f.on("lnInvoiceCreate", func(map[string]any) (int, any) {
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoiceCreate": map[string]any{
				"invoice": nil,
				"errors":  []map[string]any{{"message": "Amount exceeds limit"}},
			},
		})
	})
	c, delays := newTestClient(t, f)

	_, err := c.CreateInvoice(context.Background(), 5000, "memo")
	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "Amount exceeds limit", ie.Message)
	assert.Equal(t, 1, f.count("lnInvoiceCreate"), "domain errors are not retried")
	assert.Empty(t, *delays)
}

func TestCreateInvoice_MissingInvoice(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	f.on("lnInvoiceCreate", func(map[string]any) (int, any) {
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoiceCreate": map[string]any{"invoice": nil, "errors": []any{}},
		})
	})
	c, _ := newTestClient(t, f)

	_, err := c.CreateInvoice(context.Background(), 10, "memo")
	var ie *IssuanceError
	require.ErrorAs(t, err, &ie)
}

func TestCreateInvoice_TransportFailure(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	f.on("lnInvoiceCreate", func(map[string]any) (int, any) {
		return http.StatusInternalServerError, nil
	})
	c, _ := newTestClient(t, f)

	_, err := c.CreateInvoice(context.Background(), 10, "memo")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, f.count("lnInvoiceCreate"))
}

func TestCreateInvoice_WalletNotFound(t *testing.T) {
	f := newFakeBlink(t)
	f.on("defaultAccount", func(map[string]any) (int, any) {
		return http.StatusOK, dataResponse(map[string]any{
			"me": map[string]any{"defaultAccount": map[string]any{"wallets": []any{}}},
		})
	})
	c, _ := newTestClient(t, f)

	_, err := c.CreateInvoice(context.Background(), 10, "memo")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

// TestIssueThenStatusIsPending checks that a freshly issued invoice reports PENDING.
func TestIssueThenStatusIsPending(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	f.onInvoiceCreate("lnbc1pending")
	f.on("lnInvoicePaymentStatusByPaymentRequest", func(vars map[string]any) (int, any) {
		input := vars["input"].(map[string]any)
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoicePaymentStatusByPaymentRequest": map[string]any{
				"paymentRequest": input["paymentRequest"],
				"status":         "PENDING",
			},
		})
	})
	c, _ := newTestClient(t, f)

	inv, err := c.CreateInvoice(context.Background(), 21, "memo")
	require.NoError(t, err)

	status, err := c.InvoiceStatus(context.Background(), inv.PaymentRequest)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.False(t, status.Terminal())
}
