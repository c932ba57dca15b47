// Package blink talks to the Blink custodial Lightning wallet over its GraphQL API.
//
// The Client wraps a single transport with bounded linear-backoff retries. Invoice
// issuance, status checks, fee probes and outbound payments are thin typed calls on
// top of it. Status checks and fee probes run with a single attempt because their
// callers already loop or tolerate failure.
package blink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/satsforward/service/metrics"
)

// DefaultEndpoint is the production Blink GraphQL endpoint.
const DefaultEndpoint = "https://api.blink.sv/graphql"

const (
	defaultMaxAttempts    = 3
	defaultRetryDelay     = time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultWalletCurrency = "BTC"
	maxErrorBodyBytes     = 1024
)

// Client is a Blink GraphQL client. It is safe for concurrent use; the only
// state shared between calls is the cached wallet id.
type Client struct {
	endpoint       string
	apiKey         string
	httpClient     *http.Client
	maxAttempts    int
	retryDelay     time.Duration
	requestTimeout time.Duration
	defaultMemo    string
	logger         *slog.Logger
	metrics        *metrics.Metrics

	// sleep waits between failed attempts. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	wallets *WalletResolver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets the maximum number of attempts per call and the base delay of the
// linear backoff. The wait after the n-th failed attempt is n*delay.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithRequestTimeout bounds each individual HTTP attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithWalletCurrency selects which account wallet receives invoices and pays out.
func WithWalletCurrency(currency string) Option {
	return func(c *Client) {
		c.wallets.currency = strings.ToUpper(currency)
	}
}

// WithDefaultMemo sets the memo used when CreateInvoice is called with an empty one.
func WithDefaultMemo(memo string) Option {
	return func(c *Client) {
		c.defaultMemo = memo
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a Blink client for endpoint authenticated with apiKey.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:       endpoint,
		apiKey:         apiKey,
		httpClient:     &http.Client{},
		maxAttempts:    defaultMaxAttempts,
		retryDelay:     defaultRetryDelay,
		requestTimeout: defaultRequestTimeout,
		logger:         slog.Default(),
		sleep:          sleepContext,
	}
	c.wallets = &WalletResolver{client: c, currency: defaultWalletCurrency}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "blink")
	return c
}

// callOptions tune a single Do invocation.
type callOptions struct {
	attempts int
}

// CallOption overrides client defaults for one call.
type CallOption func(*callOptions)

// WithAttempts overrides the number of attempts for one call. WithAttempts(1) disables retries.
func WithAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// Do executes a GraphQL operation and decodes its data field into out.
//
// A non-200 response or a non-empty top-level errors list counts as a failed attempt.
// Failed attempts are retried after a linear backoff; there is no wait after the
// final attempt. When all attempts fail, Do returns a *TransportError.
func (c *Client) Do(ctx context.Context, operation, query string, variables map[string]any, out any, opts ...CallOption) error {
	co := callOptions{attempts: c.maxAttempts}
	for _, opt := range opts {
		opt(&co)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	start := time.Now()
	var lastErr error
	made := 0
	for attempt := 0; attempt < co.attempts; attempt++ {
		made++
		lastErr = c.attempt(ctx, body, out)
		if lastErr == nil {
			if c.metrics != nil {
				c.metrics.RecordBlinkCall(operation, "success", time.Since(start).Seconds())
			}
			return nil
		}

		c.logger.WarnContext(ctx, "blink request failed",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", co.attempts,
			"error", lastErr,
		)

		if ctx.Err() != nil || attempt == co.attempts-1 {
			break
		}

		if c.metrics != nil {
			c.metrics.RecordBlinkRetry(operation, retryReason(lastErr))
		}
		if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt+1)); err != nil {
			lastErr = err
			break
		}
	}

	if c.metrics != nil {
		c.metrics.RecordBlinkCall(operation, "error", time.Since(start).Seconds())
	}
	return &TransportError{Operation: operation, Attempts: made, Err: lastErr}
}

// attempt performs one HTTP round trip bounded by the per-request timeout.
func (c *Client) attempt(ctx context.Context, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return &graphqlErrors{Messages: msgs}
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

func retryReason(err error) string {
	switch err.(type) {
	case *statusError:
		return "http_status"
	case *graphqlErrors:
		return "graphql_errors"
	default:
		return "network"
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
