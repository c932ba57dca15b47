package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Leaderboard categories.
const (
	LeaderboardDonation      = "donation"
	LeaderboardDonationCount = "donation_count"
	LeaderboardBalance       = "balance"
	LeaderboardDistance      = "distance"
)

// ActivityKinds are the activity categories users can be credited for.
var ActivityKinds = []string{"walking", "cycling", "running", "swimming", "weight"}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank     int64   `json:"rank"`
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

// IsActivityKind reports whether kind is a known activity category.
func IsActivityKind(kind string) bool {
	for _, k := range ActivityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Leaderboard ranks users by category. Activity kinds rank by the summed activity value.
func (s *Store) Leaderboard(ctx context.Context, category string, limit int32) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	var query string
	args := []any{limit}
	switch category {
	case LeaderboardDonation:
		query = `SELECT user_id, username, total_donated_sats::float8 AS score FROM users
			WHERE total_donated_sats > 0 ORDER BY score DESC, user_id LIMIT $1`
	case LeaderboardDonationCount:
		query = `SELECT user_id, username, total_donation_count::float8 AS score FROM users
			WHERE total_donation_count > 0 ORDER BY score DESC, user_id LIMIT $1`
	case LeaderboardDistance:
		query = `SELECT u.user_id, u.username, SUM(a.value) AS score
			FROM activity_logs a JOIN users u ON u.user_id = a.user_id
			WHERE a.kind <> 'weight'
			GROUP BY u.user_id, u.username
			ORDER BY score DESC, u.user_id LIMIT $1`
	case LeaderboardBalance:
		query = `SELECT user_id, username, accumulated_sats::float8 AS score FROM users
			WHERE accumulated_sats > 0 ORDER BY score DESC, user_id LIMIT $1`
	default:
		if !IsActivityKind(category) {
			return nil, fmt.Errorf("unknown leaderboard category %q", category)
		}
		query = `SELECT u.user_id, u.username, SUM(a.value) AS score
			FROM activity_logs a JOIN users u ON u.user_id = a.user_id
			WHERE a.kind = $2
			GROUP BY u.user_id, u.username
			ORDER BY score DESC, u.user_id LIMIT $1`
		args = append(args, category)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.record("leaderboard", "users", start, err)
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	var rank int64
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeaderboardEntry, error) {
		rank++
		e := LeaderboardEntry{Rank: rank}
		err := row.Scan(&e.UserID, &e.Username, &e.Score)
		return e, err
	})
	s.record("leaderboard", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
	}
	return entries, nil
}

// UserRanks is a user's standing among all users. A rank is one more than the
// number of users strictly ahead, so ties share a rank.
type UserRanks struct {
	Donation   int64 `json:"donation"`
	Distance   int64 `json:"distance"`
	Weight     int64 `json:"weight"`
	TotalUsers int64 `json:"total_users"`
}

// GetUserRanks ranks a user by donated sats, total distance and total weight.
func (s *Store) GetUserRanks(ctx context.Context, userID int64) (*UserRanks, error) {
	start := time.Now()
	var r UserRanks
	err := s.pool.QueryRow(ctx, `
		WITH scores AS (
			SELECT u.user_id, u.total_donated_sats AS donated,
				COALESCE(SUM(a.value) FILTER (WHERE a.kind <> 'weight'), 0) AS distance,
				COALESCE(SUM(a.value) FILTER (WHERE a.kind = 'weight'), 0) AS weight
			FROM users u LEFT JOIN activity_logs a ON a.user_id = u.user_id
			GROUP BY u.user_id, u.total_donated_sats
		), me AS (
			SELECT * FROM scores WHERE user_id = $1
		)
		SELECT
			(SELECT COUNT(*) FROM scores s WHERE s.donated > me.donated) + 1,
			(SELECT COUNT(*) FROM scores s WHERE s.distance > me.distance) + 1,
			(SELECT COUNT(*) FROM scores s WHERE s.weight > me.weight) + 1,
			(SELECT COUNT(*) FROM scores)
		FROM me`, userID).Scan(&r.Donation, &r.Distance, &r.Weight, &r.TotalUsers)
	s.record("get_user_ranks", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rank user %d: %w", userID, err)
	}
	return &r, nil
}
