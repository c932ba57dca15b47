package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// User is a participant's balance and donation totals.
type User struct {
	UserID             int64      `json:"user_id"`
	Username           string     `json:"username"`
	AccumulatedSats    int64      `json:"accumulated_sats"`
	AccumulatedBTC     string     `json:"accumulated_btc"`
	TotalDonatedSats   int64      `json:"total_donated_sats"`
	TotalDonationCount int64      `json:"total_donation_count"`
	CreatedAt          time.Time  `json:"created_at"`
	LastActivityAt     *time.Time `json:"last_activity_at,omitempty"`
	Ranks              *Ranks     `json:"ranks,omitempty"`
}

// Ranks is a user's standing. Ties share a rank.
type Ranks struct {
	Donation   int64 `json:"donation"`
	Distance   int64 `json:"distance"`
	Weight     int64 `json:"weight"`
	TotalUsers int64 `json:"total_users"`
}

// Rate is a user's pledge in sats per unit of an activity kind.
type Rate struct {
	Kind        string    `json:"kind"`
	Unit        string    `json:"unit"`
	SatsPerUnit int64     `json:"sats_per_unit"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Donation is one donation history entry.
type Donation struct {
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

// Activity is one credited activity.
type Activity struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	SatsPerUnit int64     `json:"sats_per_unit"`
	SatsEarned  int64     `json:"sats_earned"`
	CreatedAt   time.Time `json:"created_at"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank     int64   `json:"rank"`
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

// User retrieves a user's balance, totals and ranks.
func (c *Client) User(ctx context.Context, userID int64) (*User, error) {
	var u User
	if err := c.doJSON(ctx, "GET", fmt.Sprintf("/api/v1/users/%d", userID), nil, http.StatusOK, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordActivity credits a user for an activity. The server computes the sats
// from the user's rate for kind; without one it answers 422.
func (c *Client) RecordActivity(ctx context.Context, userID int64, username, kind string, value float64) (*Activity, error) {
	var a Activity
	err := c.doJSON(ctx, "POST", fmt.Sprintf("/api/v1/users/%d/activities", userID), map[string]interface{}{
		"username": username,
		"kind":     kind,
		"value":    value,
	}, http.StatusCreated, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Rates returns the rates a user has set.
func (c *Client) Rates(ctx context.Context, userID int64) ([]Rate, error) {
	var resp struct {
		Rates []Rate `json:"rates"`
	}
	if err := c.doJSON(ctx, "GET", fmt.Sprintf("/api/v1/users/%d/settings", userID), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// SetRates updates the given kinds' rates and returns all of the user's rates.
func (c *Client) SetRates(ctx context.Context, userID int64, username string, rates map[string]int64) ([]Rate, error) {
	var resp struct {
		Rates []Rate `json:"rates"`
	}
	err := c.doJSON(ctx, "PUT", fmt.Sprintf("/api/v1/users/%d/settings", userID), map[string]interface{}{
		"username": username,
		"rates":    rates,
	}, http.StatusOK, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// History lists a user's donations, newest first.
func (c *Client) History(ctx context.Context, userID int64, limit, offset int) ([]*Donation, error) {
	var resp struct {
		Donations []*Donation `json:"donations"`
	}
	path := fmt.Sprintf("/api/v1/users/%d/donations%s", userID, pagingQuery(limit, offset))
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Donations, nil
}

// Leaderboard ranks users by category.
func (c *Client) Leaderboard(ctx context.Context, category string, limit int) ([]LeaderboardEntry, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/leaderboard"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
