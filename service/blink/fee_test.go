package blink

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/brojonat/satsforward/service/metrics"
)

func TestProbeFee(t *testing.T) {
	f := newFakeBlink(t)
	f.onWallets()
	f.on("lnInvoiceFeeProbe", func(vars map[string]any) (int, any) {
		input := vars["input"].(map[string]any)
		assert.Equal(t, "btc-wallet", input["walletId"])
		assert.Equal(t, "lnbc1dest", input["paymentRequest"])
		return http.StatusOK, dataResponse(map[string]any{
			"lnInvoiceFeeProbe": map[string]any{"amount": 3, "errors": []any{}},
		})
	})
	c, _ := newTestClient(t, f)

	assert.Equal(t, int64(3), c.ProbeFee(context.Background(), "lnbc1dest"))
}

func TestProbeFee_FailuresYieldZero(t *testing.T) {
	tests := []struct {
		name    string
		handler func(map[string]any) (int, any)
	}{
		{"transport", func(map[string]any) (int, any) { return http.StatusInternalServerError, nil }},
		{"graphql errors", func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"errors": []map[string]any{{"message": "nope"}}}
		}},
		{"domain errors", func(map[string]any) (int, any) {
			return http.StatusOK, dataResponse(map[string]any{
				"lnInvoiceFeeProbe": map[string]any{
					"amount": 99,
					"errors": []map[string]any{{"message": "no route"}},
				},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBlink(t)
			f.onWallets()
			f.on("lnInvoiceFeeProbe", tt.handler)

			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)
			c, delays := newTestClient(t, f, WithMetrics(m))

			assert.Equal(t, int64(0), c.ProbeFee(context.Background(), "lnbc1dest"))
			assert.Equal(t, 1, f.count("lnInvoiceFeeProbe"), "fee probe is single attempt")
			assert.Empty(t, *delays)
			assert.Equal(t, 1, testutil.CollectAndCount(reg, "fee_probes_total"))
		})
	}
}

func TestProbeFee_WalletFailureYieldsZero(t *testing.T) {
	f := newFakeBlink(t)
	f.on("defaultAccount", func(map[string]any) (int, any) { return http.StatusUnauthorized, nil })
	c, _ := newTestClient(t, f)

	assert.Equal(t, int64(0), c.ProbeFee(context.Background(), "lnbc1dest"))
}
