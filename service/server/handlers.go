package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/satsforward/service/config"
	"github.com/brojonat/satsforward/service/donation"
	natspkg "github.com/brojonat/satsforward/service/nats"
	"github.com/brojonat/satsforward/service/temporal"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - plenty for a donation or activity
	maxUsernameLength  = 64
)

// startDonationRequest is the body of POST /api/v1/donations.
type startDonationRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// handleStartDonation returns a handler that prepares a settlement of the user's
// whole balance, issues the collection invoice and starts the settlement workflow.
// POST /api/v1/donations
func handleStartDonation(donations Donations, settlements Settlements, publisher natspkg.Publisher, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body startDonationRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateUserID(body.UserID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateUsername(body.Username); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		workflowID := temporal.WorkflowID(body.UserID)

		// A settlement that is still running owns the user's balance.
		if current, err := settlements.SettlementStatus(ctx, workflowID); err == nil && !current.Finished() {
			res := &donation.Result{Status: donation.StatusRejected, Err: donation.ErrSettlementInProgress}
			writeJSON(w, map[string]interface{}{
				"error":       res.Message(),
				"status":      res.Status,
				"workflow_id": workflowID,
			}, http.StatusConflict)
			return
		} else if err != nil && !errors.Is(err, temporal.ErrSettlementNotFound) {
			logger.Warn("failed to check running settlement", "workflow_id", workflowID, "error", err)
		}

		req, err := donations.Prepare(ctx, body.UserID, body.Username)
		if err != nil {
			var amountErr *donation.AmountError
			if errors.Is(err, donation.ErrNothingToDonate) || errors.As(err, &amountErr) {
				res := &donation.Result{Status: donation.StatusRejected, Err: err}
				writeJSON(w, map[string]interface{}{
					"error":  res.Message(),
					"status": res.Status,
				}, http.StatusUnprocessableEntity)
				return
			}
			logger.Error("failed to prepare donation", "user_id", body.UserID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		inv, err := donations.Issue(ctx, req)
		if err != nil {
			logger.Error("failed to issue donation invoice", "user_id", body.UserID, "error", err)
			res := &donation.Result{Status: donation.StatusIssueFailed, Err: err}
			writeJSON(w, map[string]interface{}{
				"error":  res.Message(),
				"status": res.Status,
			}, http.StatusBadGateway)
			return
		}

		workflowID, err = settlements.StartSettlement(ctx, req, inv, cfg.PaymentTimeout)
		if err != nil {
			if errors.Is(err, donation.ErrSettlementInProgress) {
				writeError(w, "a donation is already in progress", http.StatusConflict)
				return
			}
			logger.Error("failed to start settlement workflow", "user_id", body.UserID, "error", err)
			writeError(w, "failed to start donation", http.StatusInternalServerError)
			return
		}

		if publisher != nil {
			event := natspkg.InvoiceIssuedEvent(req, inv)
			event.WorkflowID = workflowID
			if err := publisher.PublishDonationEvent(ctx, event); err != nil {
				logger.Warn("failed to publish invoice event", "workflow_id", workflowID, "error", err)
			}
		}

		logger.Info("donation started",
			"user_id", req.UserID,
			"amount_sats", req.AmountSats,
			"workflow_id", workflowID,
		)

		writeJSON(w, newDonationInvoice(req, inv, workflowID, cfg.PaymentTimeout, time.Now()), http.StatusCreated)
	})
}

// settlementResponse is the JSON response format for a settlement.
type settlementResponse struct {
	WorkflowID string `json:"workflow_id"`
	*temporal.SettleDonationResult
}

// handleGetDonation returns a handler that reports a settlement's stage or outcome.
// GET /api/v1/donations/{workflow_id}
func handleGetDonation(settlements Settlements, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if err := validateWorkflowID(workflowID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := settlements.SettlementStatus(r.Context(), workflowID)
		if err != nil {
			if errors.Is(err, temporal.ErrSettlementNotFound) {
				writeError(w, "donation not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get settlement status", "workflow_id", workflowID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, settlementResponse{WorkflowID: workflowID, SettleDonationResult: result}, http.StatusOK)
	})
}

// handleCancelDonation returns a handler that cancels a settlement that is still
// waiting for payment. Cancellation after payment has no effect on forwarding.
// DELETE /api/v1/donations/{workflow_id}
func handleCancelDonation(settlements Settlements, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if err := validateWorkflowID(workflowID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := settlements.CancelSettlement(r.Context(), workflowID); err != nil {
			if errors.Is(err, temporal.ErrSettlementNotFound) {
				writeError(w, "donation not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to cancel settlement", "workflow_id", workflowID, "error", err)
			writeError(w, "failed to cancel donation", http.StatusInternalServerError)
			return
		}

		logger.Info("donation cancellation requested", "workflow_id", workflowID)
		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"status":      "cancel_requested",
		}, http.StatusAccepted)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func validateUserID(userID int64) error {
	if userID <= 0 {
		return errorf("user_id must be a positive integer")
	}
	return nil
}

// parseUserID reads the {user_id} path value.
func parseUserID(r *http.Request) (int64, error) {
	raw := r.PathValue("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errorf("invalid user_id: must be an integer")
	}
	return userID, validateUserID(userID)
}

func validateUsername(username string) error {
	if len(username) > maxUsernameLength {
		return errorf("username too long: maximum length is %d characters", maxUsernameLength)
	}
	for _, r := range username {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in username: control characters not allowed")
		}
	}
	return nil
}

// validateWorkflowID accepts only settlement workflow ids.
func validateWorkflowID(id string) error {
	rest, ok := strings.CutPrefix(id, "donation-")
	if !ok {
		return errorf("invalid workflow_id: must look like donation-{user_id}")
	}
	userID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || userID <= 0 {
		return errorf("invalid workflow_id: must look like donation-{user_id}")
	}
	return nil
}

// parseQueryInt reads an optional non-negative integer query parameter.
func parseQueryInt(r *http.Request, name string, def, max int32) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if n < 0 {
		return 0, errorf("%s cannot be negative", name)
	}
	if max > 0 && n > int(max) {
		return 0, errorf("%s cannot exceed %d", name, max)
	}
	return int32(n), nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
