package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBlinkCall("lnInvoiceCreate", "success", 0.2)
	m.RecordDonation("completed", 1500, 42)
	m.RecordDBQuery("debit", "users", 0.01, nil)

	count, err := testutil.GatherAndCount(reg,
		"blink_api_calls_total",
		"donations_total",
		"db_operations_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecordDonation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDonation("completed", 1500, 30)
	m.RecordDonation("completed", 500, 10)
	m.RecordDonation("held", 800, 60)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.donationsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.donationsTotal.WithLabelValues("held")))
}

func TestRecordDBQuery_Status(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDBQuery("debit", "users", 0.01, nil)
	m.RecordDBQuery("debit", "users", 0.01, errors.New("conflict"))
	m.RecordDBQuery("debit", "users", 0.01, errors.New("conflict"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("debit", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("debit", "error")))
}

func TestSettlementsInFlight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SettlementStarted()
	m.SettlementStarted()
	m.SettlementFinished()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.settlementsInFlight))
}

func TestRecordFeeProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordFeeProbe("success", 3)
	m.RecordFeeProbe("error", 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.feeProbesTotal.WithLabelValues("error")))

	expected := `
# HELP fee_probes_total Total number of routing fee probes
# TYPE fee_probes_total counter
fee_probes_total{status="error"} 1
fee_probes_total{status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fee_probes_total"))
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{502, "5xx"},
		{99, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeToString(tt.code), tt.code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/donations")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest("POST", "/api/v1/donations", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/donations", "POST", "4xx")))
}

func TestHTTPMetricsMiddleware_DefaultStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/health", "GET", "2xx")))
}

func TestHTTPMetricsMiddleware_FirstStatusWins(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/donations/{workflow_id}")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/donations/donation-1", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/donations/{workflow_id}", "GET", "4xx")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/donations/{workflow_id}", "GET", "2xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	w := httptest.NewRecorder()
	HTTPMetricsMiddleware(nil, "/health")(next).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestTimer(t *testing.T) {
	var got float64
	done := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	done()
	assert.GreaterOrEqual(t, got, 1.0)
}
