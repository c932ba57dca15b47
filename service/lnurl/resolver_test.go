package lnurl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lnurlServer serves a well-known endpoint for one user and a callback.
type lnurlServer struct {
	srv       *httptest.Server
	requests  atomic.Int32
	params    func(base string) any
	callback  func(r *http.Request) (int, any)
	lastQuery atomic.Value
}

func newLNURLServer(t *testing.T) *lnurlServer {
	s := &lnurlServer{}
	s.params = func(base string) any {
		return map[string]any{
			"tag":         "payRequest",
			"callback":    base + "/lnurlp/callback?user=citadel",
			"minSendable": 1000,
			"maxSendable": 100_000_000_000,
			"metadata":    `[["text/plain","donations"]]`,
		}
	}
	s.callback = func(r *http.Request) (int, any) {
		return http.StatusOK, map[string]any{"pr": "lnbc50u1pdest", "routes": []any{}}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/lnurlp/{user}", func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		assert.Equal(t, "citadel", r.PathValue("user"))
		writeJSON(w, http.StatusOK, s.params(s.srv.URL))
	})
	mux.HandleFunc("GET /lnurlp/callback", func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.lastQuery.Store(r.URL.Query())
		status, body := s.callback(r)
		writeJSON(w, status, body)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *lnurlServer) address() string {
	return "citadel@" + strings.TrimPrefix(s.srv.URL, "http://")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestResolver() *Resolver {
	return NewResolver(WithScheme("http"), WithTimeout(2*time.Second))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("citadel@Blink.sv")
	require.NoError(t, err)
	assert.Equal(t, "citadel", addr.User)
	assert.Equal(t, "blink.sv", addr.Domain)
	assert.Equal(t, "citadel@blink.sv", addr.String())
	assert.Equal(t, "https://blink.sv/.well-known/lnurlp/citadel", addr.wellKnownURL("https"))
}

func TestResolve(t *testing.T) {
	s := newLNURLServer(t)
	r := newTestResolver()

	pr, err := r.Resolve(context.Background(), s.address(), 5000)
	require.NoError(t, err)
	assert.Equal(t, "lnbc50u1pdest", pr)
	assert.Equal(t, int32(2), s.requests.Load())

	q := s.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"5000000"}, q["amount"], "amount is sent in millisats")
	assert.Equal(t, []string{"citadel"}, q["user"], "existing callback params are kept")
}

// TestResolve_MalformedAddress verifies format errors never touch the network.
func TestResolve_MalformedAddress(t *testing.T) {
	s := newLNURLServer(t)
	r := newTestResolver()

	for _, addr := range []string{"", "citadel", "a@b@c", "@blink.sv", "citadel@"} {
		_, err := r.Resolve(context.Background(), addr, 100)
		var fe *InvalidAddressFormatError
		require.ErrorAs(t, err, &fe, addr)
		assert.Equal(t, addr, fe.Address)
	}
	assert.Zero(t, s.requests.Load())
}

func TestResolve_InvalidAmount(t *testing.T) {
	s := newLNURLServer(t)
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), s.address(), 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Zero(t, s.requests.Load())
}

func TestResolve_LookupErrors(t *testing.T) {
	t.Run("status ERROR", func(t *testing.T) {
		s := newLNURLServer(t)
		s.params = func(string) any {
			return map[string]any{"status": "ERROR", "reason": "user not found"}
		}

		_, err := newTestResolver().Resolve(context.Background(), s.address(), 100)
		var le *LookupError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "user not found", le.Reason)
		assert.Equal(t, int32(1), s.requests.Load(), "callback is not called")
	})

	t.Run("unreachable domain", func(t *testing.T) {
		s := newLNURLServer(t)
		addr := s.address()
		s.srv.Close()

		_, err := newTestResolver().Resolve(context.Background(), addr, 100)
		var le *LookupError
		require.ErrorAs(t, err, &le)
	})

	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		t.Cleanup(srv.Close)

		_, err := newTestResolver().Resolve(context.Background(), "citadel@"+strings.TrimPrefix(srv.URL, "http://"), 100)
		var le *LookupError
		require.ErrorAs(t, err, &le)
		assert.Contains(t, le.Error(), "status 404")
	})
}

func TestResolve_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		params   func(base string) any
		callback func(*http.Request) (int, any)
		reason   string
	}{
		{
			name:   "missing callback",
			params: func(string) any { return map[string]any{"tag": "payRequest"} },
			reason: "missing a callback",
		},
		{
			name: "callback error",
			callback: func(*http.Request) (int, any) {
				return http.StatusOK, map[string]any{"status": "ERROR", "reason": "amount not allowed"}
			},
			reason: "amount not allowed",
		},
		{
			name:     "missing pr",
			callback: func(*http.Request) (int, any) { return http.StatusOK, map[string]any{"routes": []any{}} },
			reason:   "missing pr",
		},
		{
			name: "below minSendable",
			params: func(base string) any {
				return map[string]any{"callback": base + "/lnurlp/callback", "minSendable": 10_000_000}
			},
			reason: "below minSendable",
		},
		{
			name: "above maxSendable",
			params: func(base string) any {
				return map[string]any{"callback": base + "/lnurlp/callback", "minSendable": 1000, "maxSendable": 1_000_000}
			},
			reason: "above maxSendable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newLNURLServer(t)
			if tt.params != nil {
				s.params = tt.params
			}
			if tt.callback != nil {
				s.callback = tt.callback
			}

			_, err := newTestResolver().Resolve(context.Background(), s.address(), 5000)
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Reason, tt.reason)
		})
	}
}

func TestResolve_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	r := NewResolver(WithScheme("http"), WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := r.Resolve(context.Background(), "citadel@"+strings.TrimPrefix(srv.URL, "http://"), 100)
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Less(t, time.Since(start), 2*time.Second)
}
