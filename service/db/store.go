package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/satsforward/service/metrics"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrUserNotFound is returned when a user row does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrDonationNotFound is returned when no history row exists for an invoice.
	ErrDonationNotFound = errors.New("donation not found")

	// ErrBalanceConflict means a conditional debit matched no row: the balance
	// changed underneath the caller or is smaller than the requested amount.
	ErrBalanceConflict = errors.New("balance conflict")
)

// Donation history statuses.
const (
	DonationStatusCompleted = "completed"
	DonationStatusRefunded  = "refunded"
	DonationStatusFailed    = "failed"
)

// Donation types.
const (
	DonationTypeManual    = "manual"
	DonationTypeReconcile = "reconcile"
)

// Store provides ledger operations backed by Postgres.
// Every balance write is conditional and runs inside a transaction.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics enables query instrumentation and returns the store.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// User is a participant's ledger row.
type User struct {
	UserID             int64
	Username           string
	AccumulatedSats    int64
	TotalDonatedSats   int64
	TotalDonationCount int64
	CreatedAt          time.Time
	LastActivityAt     *time.Time
}

// Activity is one recorded activity and the sats it earned at the user's rate.
type Activity struct {
	ID          int64
	UserID      int64
	Kind        string
	Value       float64
	SatsPerUnit int64
	SatsEarned  int64
	CreatedAt   time.Time
}

// Donation is a donation_history row.
type Donation struct {
	ID                 int64
	UserID             int64
	AmountSats         int64
	FeeSats            int64
	LightningAddress   string
	PaymentRequest     string
	PaymentHash        string
	DestinationInvoice string
	DonationType       string
	Status             string
	ErrorMessage       *string
	CreatedAt          time.Time
}

// RecordActivityParams contains the parameters for crediting an activity.
// The credit is computed from the user's rate for Kind.
type RecordActivityParams struct {
	UserID   int64
	Username string
	Kind     string
	Value    float64
}

// DebitParams describes a completed settlement to commit.
// PaymentRequest is the collected invoice and the idempotency key of the commit.
type DebitParams struct {
	UserID             int64
	AmountSats         int64
	FeeSats            int64
	LightningAddress   string
	PaymentRequest     string
	PaymentHash        string
	DestinationInvoice string
	DonationType       string
}

// AppendHistoryParams describes a history row written without touching balances.
type AppendHistoryParams struct {
	UserID             int64
	AmountSats         int64
	LightningAddress   string
	PaymentRequest     string
	PaymentHash        string
	DestinationInvoice string
	DonationType       string
	Status             string
	ErrorMessage       *string
}

const userColumns = `user_id, username, accumulated_sats, total_donated_sats, total_donation_count, created_at, last_activity_at`

const activityColumns = `activity_id, user_id, kind, value, sats_per_unit, sats_earned, created_at`

const donationColumns = `donation_id, user_id, amount_sats, fee_sats, lightning_address, payment_request,
	payment_hash, destination_invoice, donation_type, status, error_message, created_at`

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	u, err := scanUser(row)
	s.record("get_user", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return u, nil
}

// ReadBalance returns the user's accumulated sats. Unknown users have a zero balance.
func (s *Store) ReadBalance(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT accumulated_sats FROM users WHERE user_id = $1`, userID).Scan(&balance)
	s.record("read_balance", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// RecordActivity credits a user for an activity at the rate they set for its
// kind. Without a rate it returns ErrRateNotSet and writes nothing.
func (s *Store) RecordActivity(ctx context.Context, params RecordActivityParams) (*Activity, error) {
	if !IsActivityKind(params.Kind) {
		return nil, fmt.Errorf("unknown activity kind %q", params.Kind)
	}
	if params.Value <= 0 {
		return nil, fmt.Errorf("activity value must be positive: %v", params.Value)
	}

	start := time.Now()
	var act *Activity
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var rate int64
		err := tx.QueryRow(ctx, `
			SELECT sats_per_unit FROM activity_rates
			WHERE user_id = $1 AND kind = $2 FOR SHARE`,
			params.UserID, params.Kind).Scan(&rate)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRateNotSet, params.Kind)
		}
		if err != nil {
			return fmt.Errorf("failed to read activity rate: %w", err)
		}
		earned := satsForActivity(params.Value, rate)

		_, err = tx.Exec(ctx, `
			UPDATE users SET
				username = CASE WHEN $2 <> '' THEN $2 ELSE username END,
				accumulated_sats = accumulated_sats + $3,
				last_activity_at = now()
			WHERE user_id = $1`,
			params.UserID, params.Username, earned)
		if err != nil {
			return fmt.Errorf("failed to credit user: %w", err)
		}

		act = &Activity{}
		err = tx.QueryRow(ctx, `
			INSERT INTO activity_logs (user_id, kind, value, sats_per_unit, sats_earned)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+activityColumns,
			params.UserID, params.Kind, params.Value, rate, earned,
		).Scan(&act.ID, &act.UserID, &act.Kind, &act.Value, &act.SatsPerUnit, &act.SatsEarned, &act.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
	s.record("record_activity", "activity_logs", start, err)
	if err != nil {
		return nil, err
	}
	return act, nil
}

// DebitAndRecord commits a completed settlement in one transaction: it inserts a
// completed history row keyed on the collected invoice and debits the user only if
// the balance still covers the amount.
//
// Committing the same PaymentRequest twice is a no-op that returns the existing
// completed row. If the conditional debit matches no row, or the invoice already
// has a row that is not a matching completed debit, nothing is written and
// ErrBalanceConflict is returned.
func (s *Store) DebitAndRecord(ctx context.Context, params DebitParams) (*Donation, error) {
	if params.AmountSats <= 0 {
		return nil, fmt.Errorf("debit amount must be positive: %d", params.AmountSats)
	}
	if params.DonationType == "" {
		params.DonationType = DonationTypeManual
	}

	start := time.Now()
	var d *Donation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO donation_history (user_id, amount_sats, fee_sats, lightning_address, payment_request,
				payment_hash, destination_invoice, donation_type, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (payment_request) DO NOTHING
			RETURNING `+donationColumns,
			params.UserID, params.AmountSats, params.FeeSats, params.LightningAddress, params.PaymentRequest,
			params.PaymentHash, params.DestinationInvoice, params.DonationType, DonationStatusCompleted)

		inserted, err := scanDonation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := scanDonation(tx.QueryRow(ctx,
				`SELECT `+donationColumns+` FROM donation_history WHERE payment_request = $1`, params.PaymentRequest))
			if err != nil {
				return fmt.Errorf("failed to load existing donation: %w", err)
			}
			if existing.Status != DonationStatusCompleted {
				return fmt.Errorf("invoice already recorded as %s: %w", existing.Status, ErrBalanceConflict)
			}
			if existing.UserID != params.UserID || existing.AmountSats != params.AmountSats {
				return fmt.Errorf("invoice already recorded for user %d with %d sats: %w",
					existing.UserID, existing.AmountSats, ErrBalanceConflict)
			}
			d = existing
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert donation: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET
				accumulated_sats = accumulated_sats - $2,
				total_donated_sats = total_donated_sats + $2,
				total_donation_count = total_donation_count + 1
			WHERE user_id = $1 AND accumulated_sats >= $2`,
			params.UserID, params.AmountSats)
		if err != nil {
			return fmt.Errorf("failed to debit user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrBalanceConflict
		}

		d = inserted
		return nil
	})
	s.record("debit_and_record", "donation_history", start, err)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AppendHistory writes a history row without changing any balance. Operators use
// it to annotate settlements that were resolved outside the pipeline.
func (s *Store) AppendHistory(ctx context.Context, params AppendHistoryParams) (*Donation, error) {
	if params.DonationType == "" {
		params.DonationType = DonationTypeReconcile
	}
	if params.Status == "" {
		return nil, fmt.Errorf("status is required")
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO donation_history (user_id, amount_sats, lightning_address, payment_request, payment_hash,
			destination_invoice, donation_type, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+donationColumns,
		params.UserID, params.AmountSats, params.LightningAddress, params.PaymentRequest, params.PaymentHash,
		params.DestinationInvoice, params.DonationType, params.Status, pgtextFromStringPtr(params.ErrorMessage))
	d, err := scanDonation(row)
	s.record("append_history", "donation_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}
	return d, nil
}

// GetDonationByInvoice looks up the history row for a collected invoice.
// It returns ErrDonationNotFound when none exists.
func (s *Store) GetDonationByInvoice(ctx context.Context, paymentRequest string) (*Donation, error) {
	start := time.Now()
	d, err := scanDonation(s.pool.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donation_history WHERE payment_request = $1`, paymentRequest))
	s.record("get_donation_by_invoice", "donation_history", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDonationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}
	return d, nil
}

// ListDonations returns a user's donation history, newest first.
func (s *Store) ListDonations(ctx context.Context, userID int64, limit, offset int32) ([]*Donation, error) {
	if limit <= 0 {
		limit = 20
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+donationColumns+` FROM donation_history
		WHERE user_id = $1
		ORDER BY created_at DESC, donation_id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		s.record("list_donations", "donation_history", start, err)
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	defer rows.Close()

	var donations []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, d)
	}
	err = rows.Err()
	s.record("list_donations", "donation_history", start, err)
	return donations, err
}

// ListActivities returns a user's recorded activities, newest first.
func (s *Store) ListActivities(ctx context.Context, userID int64, limit int32) ([]*Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs WHERE user_id = $1
		ORDER BY created_at DESC, activity_id DESC LIMIT $2`, userID, limit)
	if err != nil {
		s.record("list_activities", "activity_logs", start, err)
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	activities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Activity, error) {
		a := &Activity{}
		err := row.Scan(&a.ID, &a.UserID, &a.Kind, &a.Value, &a.SatsPerUnit, &a.SatsEarned, &a.CreatedAt)
		return a, err
	})
	s.record("list_activities", "activity_logs", start, err)
	return activities, err
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var lastActivity pgtype.Timestamptz
	if err := row.Scan(&u.UserID, &u.Username, &u.AccumulatedSats, &u.TotalDonatedSats,
		&u.TotalDonationCount, &u.CreatedAt, &lastActivity); err != nil {
		return nil, err
	}
	u.LastActivityAt = timePtrFromPgTimestamptz(lastActivity)
	return u, nil
}

func scanDonation(row rowScanner) (*Donation, error) {
	d := &Donation{}
	var errMsg pgtype.Text
	if err := row.Scan(&d.ID, &d.UserID, &d.AmountSats, &d.FeeSats, &d.LightningAddress, &d.PaymentRequest,
		&d.PaymentHash, &d.DestinationInvoice, &d.DonationType, &d.Status, &errMsg, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ErrorMessage = stringPtrFromPgtext(errMsg)
	return d, nil
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// Helper functions for type conversions

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
