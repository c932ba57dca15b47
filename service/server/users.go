package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/brojonat/satsforward/service/config"
	"github.com/brojonat/satsforward/service/db"
)

// userResponse is the JSON response format for a user's ledger row.
type userResponse struct {
	UserID             int64         `json:"user_id"`
	Username           string        `json:"username"`
	AccumulatedSats    int64         `json:"accumulated_sats"`
	AccumulatedBTC     string        `json:"accumulated_btc"`
	TotalDonatedSats   int64         `json:"total_donated_sats"`
	TotalDonationCount int64         `json:"total_donation_count"`
	CreatedAt          time.Time     `json:"created_at"`
	LastActivityAt     *time.Time    `json:"last_activity_at,omitempty"`
	Ranks              *db.UserRanks `json:"ranks,omitempty"`
}

func userToResponse(u *db.User) userResponse {
	return userResponse{
		UserID:             u.UserID,
		Username:           u.Username,
		AccumulatedSats:    u.AccumulatedSats,
		AccumulatedBTC:     satsToBTC(u.AccumulatedSats),
		TotalDonatedSats:   u.TotalDonatedSats,
		TotalDonationCount: u.TotalDonationCount,
		CreatedAt:          u.CreatedAt,
		LastActivityAt:     u.LastActivityAt,
	}
}

// donationResponse is the JSON response format for a donation history row.
type donationResponse struct {
	ID               int64     `json:"id"`
	AmountSats       int64     `json:"amount_sats"`
	FeeSats          int64     `json:"fee_sats"`
	LightningAddress string    `json:"lightning_address"`
	PaymentHash      string    `json:"payment_hash"`
	DonationType     string    `json:"donation_type"`
	Status           string    `json:"status"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func donationToResponse(d *db.Donation) donationResponse {
	return donationResponse{
		ID:               d.ID,
		AmountSats:       d.AmountSats,
		FeeSats:          d.FeeSats,
		LightningAddress: d.LightningAddress,
		PaymentHash:      d.PaymentHash,
		DonationType:     d.DonationType,
		Status:           d.Status,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt,
	}
}

// activityResponse is the JSON response format for a credited activity.
type activityResponse struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	SatsPerUnit int64     `json:"sats_per_unit"`
	SatsEarned  int64     `json:"sats_earned"`
	CreatedAt   time.Time `json:"created_at"`
}

func activityToResponse(a *db.Activity) activityResponse {
	return activityResponse{
		ID:          a.ID,
		Kind:        a.Kind,
		Value:       a.Value,
		Unit:        db.ActivityUnit(a.Kind),
		SatsPerUnit: a.SatsPerUnit,
		SatsEarned:  a.SatsEarned,
		CreatedAt:   a.CreatedAt,
	}
}

type rateResponse struct {
	Kind        string    `json:"kind"`
	Unit        string    `json:"unit"`
	SatsPerUnit int64     `json:"sats_per_unit"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ratesToResponse(rates []db.ActivityRate) []rateResponse {
	resp := make([]rateResponse, len(rates))
	for i, r := range rates {
		resp[i] = rateResponse{Kind: r.Kind, Unit: r.Unit, SatsPerUnit: r.SatsPerUnit, UpdatedAt: r.UpdatedAt}
	}
	return resp
}

// handleGetUser returns a handler that reports a user's balance, totals and ranks.
// GET /api/v1/users/{user_id}
func handleGetUser(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		user, err := ledger.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				writeError(w, "user not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get user", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := userToResponse(user)
		ranks, err := ledger.GetUserRanks(r.Context(), userID)
		if err != nil {
			logger.Warn("failed to rank user", "user_id", userID, "error", err)
		} else {
			resp.Ranks = ranks
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// recordActivityRequest is the body of POST /api/v1/users/{user_id}/activities.
type recordActivityRequest struct {
	Username string  `json:"username"`
	Kind     string  `json:"kind"`
	Value    float64 `json:"value"`
}

// handleRecordActivity returns a handler that credits a user for an activity at
// the rate the user set for its kind.
// POST /api/v1/users/{user_id}/activities
func handleRecordActivity(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body recordActivityRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateUsername(body.Username); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !db.IsActivityKind(body.Kind) {
			writeError(w, "invalid kind: must be one of walking, cycling, running, swimming, weight", http.StatusBadRequest)
			return
		}
		if body.Value <= 0 {
			writeError(w, "value must be positive", http.StatusBadRequest)
			return
		}

		act, err := ledger.RecordActivity(r.Context(), db.RecordActivityParams{
			UserID:   userID,
			Username: body.Username,
			Kind:     body.Kind,
			Value:    body.Value,
		})
		if errors.Is(err, db.ErrRateNotSet) {
			writeError(w, "no sats rate set for "+body.Kind+": set one with PUT /api/v1/users/{user_id}/settings",
				http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			logger.Error("failed to record activity", "user_id", userID, "error", err)
			writeError(w, "failed to record activity", http.StatusInternalServerError)
			return
		}

		logger.Info("activity recorded",
			"user_id", userID,
			"kind", body.Kind,
			"value", body.Value,
			"sats_earned", act.SatsEarned,
		)
		writeJSON(w, activityToResponse(act), http.StatusCreated)
	})
}

// setActivityRatesRequest is the body of PUT /api/v1/users/{user_id}/settings.
// Rates maps an activity kind to sats per km (or per kg for weight).
type setActivityRatesRequest struct {
	Username string           `json:"username"`
	Rates    map[string]int64 `json:"rates"`
}

// handleSetActivityRates returns a handler that stores a user's per-activity rates.
// Kinds missing from the body keep their current rate.
// PUT /api/v1/users/{user_id}/settings
func handleSetActivityRates(ledger Ledger, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body setActivityRatesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := validateUsername(body.Username); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body.Rates) == 0 {
			writeError(w, "rates is required", http.StatusBadRequest)
			return
		}

		kinds := make([]string, 0, len(body.Rates))
		for kind, sats := range body.Rates {
			if !db.IsActivityKind(kind) {
				writeError(w, "invalid kind: must be one of walking, cycling, running, swimming, weight", http.StatusBadRequest)
				return
			}
			if sats <= 0 {
				writeError(w, "rate for "+kind+" must be positive", http.StatusBadRequest)
				return
			}
			if cfg.MaxDonation > 0 && sats > cfg.MaxDonation {
				writeError(w, fmt.Sprintf("rate for %s cannot exceed %d sats", kind, cfg.MaxDonation), http.StatusBadRequest)
				return
			}
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		for _, kind := range kinds {
			_, err := ledger.SetActivityRate(r.Context(), db.SetActivityRateParams{
				UserID:      userID,
				Username:    body.Username,
				Kind:        kind,
				SatsPerUnit: body.Rates[kind],
			})
			if err != nil {
				logger.Error("failed to set activity rate", "user_id", userID, "kind", kind, "error", err)
				writeError(w, "failed to update settings", http.StatusInternalServerError)
				return
			}
		}

		rates, err := ledger.ListActivityRates(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list activity rates", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("activity rates updated", "user_id", userID, "kinds", kinds)
		writeJSON(w, map[string]interface{}{
			"user_id": userID,
			"rates":   ratesToResponse(rates),
		}, http.StatusOK)
	})
}

// handleGetActivityRates returns a handler that lists a user's rates.
// GET /api/v1/users/{user_id}/settings
func handleGetActivityRates(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		rates, err := ledger.ListActivityRates(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list activity rates", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"user_id": userID,
			"rates":   ratesToResponse(rates),
		}, http.StatusOK)
	})
}

// handleListActivities returns a handler that lists a user's recent activities.
// GET /api/v1/users/{user_id}/activities?limit=N
func handleListActivities(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := parseQueryInt(r, "limit", 20, 100)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		activities, err := ledger.ListActivities(r.Context(), userID, limit)
		if err != nil {
			logger.Error("failed to list activities", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]activityResponse, len(activities))
		for i, a := range activities {
			resp[i] = activityToResponse(a)
		}
		writeJSON(w, map[string]interface{}{
			"activities": resp,
			"count":      len(resp),
		}, http.StatusOK)
	})
}

// handleListDonations returns a handler that lists a user's donation history.
// GET /api/v1/users/{user_id}/donations?limit=N&offset=N
func handleListDonations(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseUserID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := parseQueryInt(r, "limit", 20, 100)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseQueryInt(r, "offset", 0, 0)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		donations, err := ledger.ListDonations(r.Context(), userID, limit, offset)
		if err != nil {
			logger.Error("failed to list donations", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]donationResponse, len(donations))
		for i, d := range donations {
			resp[i] = donationToResponse(d)
		}
		writeJSON(w, map[string]interface{}{
			"donations": resp,
			"count":     len(resp),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

// handleLeaderboard returns a handler that ranks users.
// GET /api/v1/leaderboard?category=donation&limit=N
func handleLeaderboard(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")
		if category == "" {
			category = db.LeaderboardDonation
		}
		switch category {
		case db.LeaderboardDonation, db.LeaderboardDonationCount, db.LeaderboardBalance, db.LeaderboardDistance:
		default:
			if !db.IsActivityKind(category) {
				writeError(w, "invalid category", http.StatusBadRequest)
				return
			}
		}

		limit, err := parseQueryInt(r, "limit", 10, 100)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		entries, err := ledger.Leaderboard(r.Context(), category, limit)
		if err != nil {
			logger.Error("failed to load leaderboard", "category", category, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []db.LeaderboardEntry{}
		}

		writeJSON(w, map[string]interface{}{
			"category": category,
			"entries":  entries,
		}, http.StatusOK)
	})
}
