package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Blink API Metrics
	blinkCallsTotal   *prometheus.CounterVec
	blinkCallDuration *prometheus.HistogramVec
	blinkRetries      *prometheus.CounterVec

	// Settlement pipeline Metrics
	paymentChecksTotal *prometheus.CounterVec
	lnurlLookupsTotal  *prometheus.CounterVec
	feeProbesTotal     *prometheus.CounterVec
	feeProbeSats       prometheus.Histogram

	// Donation Metrics
	donationsTotal      *prometheus.CounterVec
	donationAmountSats  *prometheus.HistogramVec
	donationDuration    *prometheus.HistogramVec
	activityDuration    *prometheus.HistogramVec
	settlementsInFlight prometheus.Gauge

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Blink API Metrics
		blinkCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_api_calls_total",
				Help: "Total number of Blink GraphQL calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		blinkCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blink_api_call_duration_seconds",
				Help:    "Duration of Blink GraphQL calls in seconds, including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"operation"},
		),
		blinkRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blink_api_retries_total",
				Help: "Total number of Blink GraphQL retry attempts",
			},
			[]string{"operation", "reason"},
		),

		// Settlement pipeline Metrics
		paymentChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_status_checks_total",
				Help: "Total number of invoice status checks by observed status",
			},
			[]string{"status"},
		),
		lnurlLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnurl_lookups_total",
				Help: "Total number of lightning address resolutions",
			},
			[]string{"domain", "status"},
		),
		feeProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_probes_total",
				Help: "Total number of routing fee probes",
			},
			[]string{"status"},
		),
		feeProbeSats: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fee_probe_sats",
				Help:    "Estimated routing fee in sats",
				Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500},
			},
		),

		// Donation Metrics
		donationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "donations_total",
				Help: "Total number of settlement attempts by outcome",
			},
			[]string{"outcome"},
		),
		donationAmountSats: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "donation_amount_sats",
				Help:    "Donation amounts in sats",
				Buckets: []float64{10, 100, 1_000, 10_000, 100_000, 1_000_000},
			},
			[]string{"outcome"},
		),
		donationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "donation_duration_seconds",
				Help:    "Duration of a settlement from invoice to final outcome",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "donation_activity_duration_seconds",
				Help:    "Duration of settlement workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity", "status"},
		),
		settlementsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "donation_settlements_in_flight",
				Help: "Number of settlements currently in progress",
			},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Blink API metric helpers

// RecordBlinkCall records a Blink GraphQL call with duration.
func (m *Metrics) RecordBlinkCall(operation, status string, duration float64) {
	m.blinkCallsTotal.WithLabelValues(operation, status).Inc()
	m.blinkCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordBlinkRetry records a retry attempt.
func (m *Metrics) RecordBlinkRetry(operation, reason string) {
	m.blinkRetries.WithLabelValues(operation, reason).Inc()
}

// Settlement pipeline metric helpers

// RecordPaymentCheck records one invoice status check.
func (m *Metrics) RecordPaymentCheck(status string) {
	m.paymentChecksTotal.WithLabelValues(status).Inc()
}

// RecordLNURLLookup records a lightning address resolution.
func (m *Metrics) RecordLNURLLookup(domain, status string) {
	m.lnurlLookupsTotal.WithLabelValues(domain, status).Inc()
}

// RecordFeeProbe records a fee probe. Failed probes are recorded with a zero fee.
func (m *Metrics) RecordFeeProbe(status string, feeSats int64) {
	m.feeProbesTotal.WithLabelValues(status).Inc()
	m.feeProbeSats.Observe(float64(feeSats))
}

// Donation metric helpers

// RecordDonation records the final outcome of a settlement.
func (m *Metrics) RecordDonation(outcome string, amountSats int64, duration float64) {
	m.donationsTotal.WithLabelValues(outcome).Inc()
	m.donationAmountSats.WithLabelValues(outcome).Observe(float64(amountSats))
	m.donationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// SettlementStarted increments the in-flight gauge. Pair with SettlementFinished.
func (m *Metrics) SettlementStarted() {
	m.settlementsInFlight.Inc()
}

// SettlementFinished decrements the in-flight gauge.
func (m *Metrics) SettlementFinished() {
	m.settlementsInFlight.Dec()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
