// Package lnurl resolves Lightning Addresses (user@domain) to BOLT11 invoices
// using the LNURL-pay well-known endpoint.
package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/satsforward/service/metrics"
)

const (
	defaultTimeout    = 10 * time.Second
	maxResponseBytes  = 64 * 1024
	statusError       = "ERROR"
	millisatsPerSat   = 1000
	wellKnownPathTmpl = "/.well-known/lnurlp/"
)

// ErrInvalidAmount is returned for non-positive amounts before any request is made.
var ErrInvalidAmount = errors.New("amount must be a positive number of sats")

// InvalidAddressFormatError means the address is not exactly local@domain.
type InvalidAddressFormatError struct {
	Address string
}

func (e *InvalidAddressFormatError) Error() string {
	return fmt.Sprintf("invalid lightning address %q: expected user@domain", e.Address)
}

// LookupError means the well-known metadata request failed or the service refused it.
type LookupError struct {
	Address string
	Reason  string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lightning address lookup for %s failed: %s", e.Address, e.Reason)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// ProtocolError means the LNURL-pay exchange returned something unusable.
type ProtocolError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("lnurl-pay for %s failed: %s", e.Address, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Address is a parsed Lightning Address.
type Address struct {
	User   string
	Domain string
}

// ParseAddress splits address into its local part and domain.
func ParseAddress(address string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(address), "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Address{}, &InvalidAddressFormatError{Address: address}
	}
	return Address{User: parts[0], Domain: strings.ToLower(parts[1])}, nil
}

func (a Address) String() string {
	return a.User + "@" + a.Domain
}

// wellKnownURL is the LNURL-pay metadata endpoint for the address.
func (a Address) wellKnownURL(scheme string) string {
	return scheme + "://" + a.Domain + wellKnownPathTmpl + url.PathEscape(a.User)
}

// payParams is the LNURL-pay metadata response.
type payParams struct {
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
}

// invoiceResponse is the LNURL-pay callback response.
type invoiceResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	PR     string `json:"pr"`
}

// Resolver turns Lightning Addresses into payable invoices.
type Resolver struct {
	httpClient *http.Client
	timeout    time.Duration
	scheme     string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = hc
	}
}

// WithTimeout bounds each of the two requests of a resolution.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithScheme overrides the https scheme of the well-known URL. Only tests need this.
func WithScheme(scheme string) Option {
	return func(r *Resolver) {
		r.scheme = scheme
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		scheme:     "https",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "lnurl")
	return r
}

// Resolve fetches an invoice for amountSats payable to address.
// A malformed address fails before any network call.
func (r *Resolver) Resolve(ctx context.Context, address string, amountSats int64) (string, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	if amountSats <= 0 {
		return "", ErrInvalidAmount
	}

	pr, err := r.resolve(ctx, addr, amountSats)
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordLNURLLookup(addr.Domain, status)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "lightning address resolution failed",
			"address", addr.String(),
			"amount_sats", amountSats,
			"error", err,
		)
		return "", err
	}

	r.logger.InfoContext(ctx, "resolved lightning address",
		"address", addr.String(),
		"amount_sats", amountSats,
	)
	return pr, nil
}

func (r *Resolver) resolve(ctx context.Context, addr Address, amountSats int64) (string, error) {
	var params payParams
	if err := r.getJSON(ctx, addr.wellKnownURL(r.scheme), &params); err != nil {
		return "", &LookupError{Address: addr.String(), Reason: err.Error(), Err: err}
	}
	if strings.EqualFold(params.Status, statusError) {
		return "", &LookupError{Address: addr.String(), Reason: reasonOr(params.Reason, "service returned an error")}
	}
	if params.Callback == "" {
		return "", &ProtocolError{Address: addr.String(), Reason: "response is missing a callback"}
	}

	amountMsat := amountSats * millisatsPerSat
	if params.MinSendable > 0 && amountMsat < params.MinSendable {
		return "", &ProtocolError{Address: addr.String(),
			Reason: fmt.Sprintf("amount %d msat is below minSendable %d", amountMsat, params.MinSendable)}
	}
	if params.MaxSendable > 0 && amountMsat > params.MaxSendable {
		return "", &ProtocolError{Address: addr.String(),
			Reason: fmt.Sprintf("amount %d msat is above maxSendable %d", amountMsat, params.MaxSendable)}
	}

	callback, err := url.Parse(params.Callback)
	if err != nil {
		return "", &ProtocolError{Address: addr.String(), Reason: "invalid callback url", Err: err}
	}
	q := callback.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	callback.RawQuery = q.Encode()

	var inv invoiceResponse
	if err := r.getJSON(ctx, callback.String(), &inv); err != nil {
		return "", &ProtocolError{Address: addr.String(), Reason: "callback failed: " + err.Error(), Err: err}
	}
	if strings.EqualFold(inv.Status, statusError) {
		return "", &ProtocolError{Address: addr.String(), Reason: reasonOr(inv.Reason, "callback returned an error")}
	}
	if inv.PR == "" {
		return "", &ProtocolError{Address: addr.String(), Reason: "callback response is missing pr"}
	}
	return inv.PR, nil
}

// getJSON performs one GET bounded by the resolver timeout and decodes a 200 response.
func (r *Resolver) getJSON(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// LNURL services often put {"status":"ERROR","reason":...} in non-200 bodies.
		var e invoiceResponse
		if json.Unmarshal(body, &e) == nil && e.Reason != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, e.Reason)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
