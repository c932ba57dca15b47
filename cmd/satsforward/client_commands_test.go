package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDonateCommand(t *testing.T) {
	os.Unsetenv("SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/donations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			UserID   int64  `json:"user_id"`
			Username string `json:"username"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.UserID)
		assert.Equal(t, "runner", req.Username)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id":     "donation-42",
			"amount_sats":     1500,
			"amount_btc":      "0.00001500",
			"destination":     "citadel@blink.sv",
			"payment_request": "lnbc15u1test",
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return newApp().Run([]string{"satsforward", "--server-url", server.URL,
			"client", "donate", "--username", "runner", "42"})
	})
	require.NoError(t, err)
	assert.Contains(t, output, "donation-42")
	assert.Contains(t, output, "1500 sats")
	assert.Contains(t, output, "lnbc15u1test")
}

func TestClientDonateCommand_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "You have no sats to donate yet. Record some activity first.",
			"status": "rejected",
		})
	}))
	defer server.Close()

	err := newApp().Run([]string{"satsforward", "--server-url", server.URL, "client", "donate", "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sats to donate")
}

func TestClientDonateCommand_InvalidUserID(t *testing.T) {
	err := newApp().Run([]string{"satsforward", "client", "donate", "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
}

func TestClientStatusCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/donations/donation-42", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id": "donation-42",
			"stage":       "finished",
			"status":      "held",
			"message":     "Your funds are held safely",
			"request":     map[string]interface{}{"amount_sats": 1500, "destination": "citadel@blink.sv"},
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return newApp().Run([]string{"satsforward", "--server-url", server.URL, "client", "status", "donation-42"})
	})
	require.NoError(t, err)
	assert.Contains(t, output, "held")
	assert.Contains(t, output, "citadel@blink.sv")
}

func TestClientStatusCommand_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"workflow_id": "donation-42",
			"stage":       "awaiting_payment",
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return newApp().Run([]string{"satsforward", "--server-url", server.URL, "--json", "client", "status", "donation-42"})
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "awaiting_payment", got["stage"])
}

func TestClientCancelCommand(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/donations/donation-42", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return newApp().Run([]string{"satsforward", "--server-url", server.URL, "client", "cancel", "donation-42"})
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, output, "Cancellation requested")
}

func TestClientCancelCommand_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "donation not found"})
	}))
	defer server.Close()

	err := newApp().Run([]string{"satsforward", "--server-url", server.URL, "client", "cancel", "donation-42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "donation not found")
}
