package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrRateNotSet is returned when an activity is recorded before the user chose
// a sats rate for its kind.
var ErrRateNotSet = errors.New("no sats rate set for activity")

// ActivityRate is a user's pledge for one activity kind, in sats per unit.
type ActivityRate struct {
	UserID      int64
	Kind        string
	Unit        string
	SatsPerUnit int64
	UpdatedAt   time.Time
}

// SetActivityRateParams contains the parameters for pledging a rate.
type SetActivityRateParams struct {
	UserID      int64
	Username    string
	Kind        string
	SatsPerUnit int64
}

// ActivityUnit returns the unit an activity kind is measured in.
func ActivityUnit(kind string) string {
	if kind == "weight" {
		return "kg"
	}
	return "km"
}

// satsForActivity truncates value*rate to whole sats.
func satsForActivity(value float64, satsPerUnit int64) int64 {
	return decimal.NewFromFloat(value).Mul(decimal.NewFromInt(satsPerUnit)).IntPart()
}

// SetActivityRate stores the user's sats-per-unit rate for an activity kind,
// creating the user if needed.
func (s *Store) SetActivityRate(ctx context.Context, params SetActivityRateParams) (*ActivityRate, error) {
	if !IsActivityKind(params.Kind) {
		return nil, fmt.Errorf("unknown activity kind %q", params.Kind)
	}
	if params.SatsPerUnit <= 0 {
		return nil, fmt.Errorf("sats per unit must be positive: %d", params.SatsPerUnit)
	}

	start := time.Now()
	rate := &ActivityRate{Unit: ActivityUnit(params.Kind)}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertUser(ctx, tx, params.UserID, params.Username); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO activity_rates (user_id, kind, sats_per_unit)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, kind) DO UPDATE SET
				sats_per_unit = EXCLUDED.sats_per_unit,
				updated_at = now()
			RETURNING user_id, kind, sats_per_unit, updated_at`,
			params.UserID, params.Kind, params.SatsPerUnit,
		).Scan(&rate.UserID, &rate.Kind, &rate.SatsPerUnit, &rate.UpdatedAt)
	})
	s.record("set_activity_rate", "activity_rates", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to set activity rate: %w", err)
	}
	return rate, nil
}

// ListActivityRates returns the rates a user has set, ordered by kind.
func (s *Store) ListActivityRates(ctx context.Context, userID int64) ([]ActivityRate, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, kind, sats_per_unit, updated_at
		FROM activity_rates WHERE user_id = $1 ORDER BY kind`, userID)
	if err != nil {
		s.record("list_activity_rates", "activity_rates", start, err)
		return nil, fmt.Errorf("failed to list activity rates: %w", err)
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ActivityRate, error) {
		var r ActivityRate
		err := row.Scan(&r.UserID, &r.Kind, &r.SatsPerUnit, &r.UpdatedAt)
		r.Unit = ActivityUnit(r.Kind)
		return r, err
	})
	s.record("list_activity_rates", "activity_rates", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan activity rates: %w", err)
	}
	return rates, nil
}

func upsertUser(ctx context.Context, tx pgx.Tx, userID int64, username string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, username) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END`,
		userID, username)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
