package donation

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/satsforward/service/db"
)

// MemoryLedger is an in-memory Ledger for testing. It applies the same
// conditional-debit and invoice-idempotency rules as the Postgres store.
type MemoryLedger struct {
	mu        sync.RWMutex
	balances  map[int64]int64
	donated   map[int64]int64
	counts    map[int64]int64
	donations []*db.Donation
	readError error
	nextID    int64
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[int64]int64),
		donated:  make(map[int64]int64),
		counts:   make(map[int64]int64),
	}
}

// SetBalance sets a user's accumulated sats.
func (l *MemoryLedger) SetBalance(userID, sats int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = sats
}

// SetReadError makes ReadBalance fail.
func (l *MemoryLedger) SetReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readError = err
}

// ReadBalance returns the user's balance.
func (l *MemoryLedger) ReadBalance(ctx context.Context, userID int64) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.readError != nil {
		return 0, l.readError
	}
	return l.balances[userID], nil
}

// DebitAndRecord debits the user if the balance covers the amount and records a
// completed donation. Replaying an invoice returns the existing record.
func (l *MemoryLedger) DebitAndRecord(ctx context.Context, params db.DebitParams) (*db.Donation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, d := range l.donations {
		if d.PaymentRequest == params.PaymentRequest {
			if d.UserID != params.UserID || d.AmountSats != params.AmountSats {
				return nil, db.ErrBalanceConflict
			}
			return d, nil
		}
	}

	if l.balances[params.UserID] < params.AmountSats {
		return nil, db.ErrBalanceConflict
	}

	l.balances[params.UserID] -= params.AmountSats
	l.donated[params.UserID] += params.AmountSats
	l.counts[params.UserID]++
	l.nextID++

	d := &db.Donation{
		ID:                 l.nextID,
		UserID:             params.UserID,
		AmountSats:         params.AmountSats,
		FeeSats:            params.FeeSats,
		LightningAddress:   params.LightningAddress,
		PaymentRequest:     params.PaymentRequest,
		PaymentHash:        params.PaymentHash,
		DestinationInvoice: params.DestinationInvoice,
		DonationType:       params.DonationType,
		Status:             db.DonationStatusCompleted,
		CreatedAt:          time.Now(),
	}
	l.donations = append(l.donations, d)
	return d, nil
}

// Totals returns the user's balance, total donated sats and donation count.
func (l *MemoryLedger) Totals(userID int64) (balance, donated, count int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[userID], l.donated[userID], l.counts[userID]
}

// Donations returns a copy of all recorded donations.
func (l *MemoryLedger) Donations() []*db.Donation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*db.Donation, len(l.donations))
	copy(out, l.donations)
	return out
}
