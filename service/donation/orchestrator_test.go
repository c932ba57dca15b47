package donation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/lnurl"
	"github.com/brojonat/satsforward/service/metrics"
)

const (
	testUser        = int64(42)
	testDestination = "addr@example.com"
)

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*blink.Invoice, error) {
	args := m.Called(ctx, amountSats, memo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blink.Invoice), args.Error(1)
}

type MockWaiter struct {
	mock.Mock
}

func (m *MockWaiter) Await(ctx context.Context, paymentRequest string) (blink.Confirmation, error) {
	args := m.Called(ctx, paymentRequest)
	return args.Get(0).(blink.Confirmation), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, address string, amountSats int64) (string, error) {
	args := m.Called(ctx, address, amountSats)
	return args.String(0), args.Error(1)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) ProbeFee(ctx context.Context, paymentRequest string) int64 {
	args := m.Called(ctx, paymentRequest)
	return args.Get(0).(int64)
}

type MockPayer struct {
	mock.Mock
}

func (m *MockPayer) PayInvoice(ctx context.Context, paymentRequest string) (blink.PaymentStatus, error) {
	args := m.Called(ctx, paymentRequest)
	return args.Get(0).(blink.PaymentStatus), args.Error(1)
}

// recordingPresenter captures what the user would see.
type recordingPresenter struct {
	mu        sync.Mutex
	invoices  []*blink.Invoice
	results   []*Result
	presentFn func() error
}

func (p *recordingPresenter) PresentInvoice(ctx context.Context, req Request, inv *blink.Invoice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, inv)
	if p.presentFn != nil {
		return p.presentFn()
	}
	return nil
}

func (p *recordingPresenter) Notify(ctx context.Context, res *Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
	return nil
}

type harness struct {
	issuer    *MockIssuer
	waiter    *MockWaiter
	resolver  *MockResolver
	prober    *MockProber
	payer     *MockPayer
	ledger    *MemoryLedger
	presenter *recordingPresenter
	registry  *prometheus.Registry
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		issuer:    &MockIssuer{},
		waiter:    &MockWaiter{},
		resolver:  &MockResolver{},
		prober:    &MockProber{},
		payer:     &MockPayer{},
		ledger:    NewMemoryLedger(),
		presenter: &recordingPresenter{},
		registry:  prometheus.NewRegistry(),
	}
	h.orch = New(Config{
		Destination: testDestination,
		Memo:        "donation",
		MinSats:     10,
		MaxSats:     1_000_000,
	}, Deps{
		Issuer:   h.issuer,
		Waiter:   h.waiter,
		Resolver: h.resolver,
		Prober:   h.prober,
		Payer:    h.payer,
		Ledger:   h.ledger,
	}, nil, metrics.NewMetrics(h.registry))

	t.Cleanup(func() {
		h.issuer.AssertExpectations(t)
		h.waiter.AssertExpectations(t)
		h.resolver.AssertExpectations(t)
		h.prober.AssertExpectations(t)
		h.payer.AssertExpectations(t)
	})
	return h
}

func collectedInvoice(amount int64) *blink.Invoice {
	return &blink.Invoice{PaymentRequest: "lnbc1collected", PaymentHash: "hash1", AmountSats: amount, Memo: "donation"}
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		wantErr error
	}{
		{"zero balance", 0, ErrNothingToDonate},
		{"below minimum", 9, ErrAmountTooSmall},
		{"above maximum", 1_000_001, ErrAmountTooLarge},
		{"at minimum", 10, nil},
		{"at maximum", 1_000_000, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.SetBalance(testUser, tt.balance)

			req, err := h.orch.Prepare(context.Background(), testUser, "alice")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.balance, req.AmountSats)
			assert.Equal(t, testDestination, req.Destination)
			assert.Equal(t, "alice", req.Username)
		})
	}
}

func TestPrepare_LedgerError(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetReadError(errors.New("db down"))

	_, err := h.orch.Prepare(context.Background(), testUser, "alice")
	assert.ErrorContains(t, err, "db down")
}

// TestSettle_EndToEnd settles a 5,000 sat balance.
//
// EXPECTED BEHAVIOR:
// - an invoice for 5,000 is issued and presented
// - after PAID the address is resolved, the fee probed and the invoice paid
// - the ledger shows balance 0, donated 5,000, count 1 and one completed record
func TestSettle_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil).Once()
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(blink.ConfirmationPaid, nil).Once()
	h.resolver.On("Resolve", mock.Anything, testDestination, int64(5000)).Return("lnbc1dest", nil).Once()
	h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(0)).Once()
	h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(blink.PaymentSuccess, nil).Once()

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, "lnbc1dest", res.Attempt.Invoice)
	assert.Equal(t, "SUCCESS", res.Attempt.Status)
	assert.Contains(t, res.Message(), "5000 sats")

	balance, donated, count := h.ledger.Totals(testUser)
	assert.Zero(t, balance)
	assert.Equal(t, int64(5000), donated)
	assert.Equal(t, int64(1), count)

	donations := h.ledger.Donations()
	require.Len(t, donations, 1)
	assert.Equal(t, db.DonationStatusCompleted, donations[0].Status)
	assert.Equal(t, inv.PaymentRequest, donations[0].PaymentRequest)
	assert.Equal(t, "lnbc1dest", donations[0].DestinationInvoice)

	require.Len(t, h.presenter.invoices, 1)
	assert.Equal(t, inv, h.presenter.invoices[0])
	require.Len(t, h.presenter.results, 1)
	assert.Equal(t, StatusCompleted, h.presenter.results[0].Status)

	series, err := testutil.GatherAndCount(h.registry, "donations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

// TestSettle_PaymentNotSuccessful leaves the ledger untouched and reports held funds.
func TestSettle_PaymentNotSuccessful(t *testing.T) {
	for _, status := range []blink.PaymentStatus{blink.PaymentFailure, blink.PaymentPending, ""} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.ledger.SetBalance(testUser, 5000)
			inv := collectedInvoice(5000)

			h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)
			h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(blink.ConfirmationPaid, nil)
			h.resolver.On("Resolve", mock.Anything, testDestination, int64(5000)).Return("lnbc1dest", nil)
			h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(2))
			h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(status, nil)

			res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

			assert.Equal(t, StatusHeld, res.Status)
			var held *HeldFundsError
			require.ErrorAs(t, res.Err, &held)
			assert.Equal(t, "pay", held.Stage)
			assert.Contains(t, res.Message(), "held")

			balance, donated, count := h.ledger.Totals(testUser)
			assert.Equal(t, int64(5000), balance)
			assert.Zero(t, donated)
			assert.Zero(t, count)
			assert.Empty(t, h.ledger.Donations())
		})
	}
}

func TestSettle_PaymentError(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)
	payErr := &blink.PaymentError{Message: "no route"}

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(blink.ConfirmationPaid, nil)
	h.resolver.On("Resolve", mock.Anything, testDestination, int64(5000)).Return("lnbc1dest", nil)
	h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(0))
	h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(blink.PaymentFailure, payErr)

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	assert.Equal(t, StatusHeld, res.Status)
	var pe *blink.PaymentError
	assert.ErrorAs(t, res.Err, &pe)
	balance, _, _ := h.ledger.Totals(testUser)
	assert.Equal(t, int64(5000), balance)
}

func TestSettle_ResolveFailureHoldsFunds(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(blink.ConfirmationPaid, nil)
	h.resolver.On("Resolve", mock.Anything, testDestination, int64(5000)).
		Return("", &lnurl.LookupError{Address: testDestination, Reason: "status 404"})

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	assert.Equal(t, StatusHeld, res.Status)
	var held *HeldFundsError
	require.ErrorAs(t, res.Err, &held)
	assert.Equal(t, "resolve", held.Stage)
	h.payer.AssertNotCalled(t, "PayInvoice", mock.Anything, mock.Anything)
	assert.Empty(t, h.ledger.Donations())
}

// TestSettle_FeeProbeFailureDoesNotBlock relies on the prober returning 0 on error.
func TestSettle_FeeProbeFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 100)
	inv := collectedInvoice(100)

	h.issuer.On("CreateInvoice", mock.Anything, int64(100), "donation").Return(inv, nil)
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(blink.ConfirmationPaid, nil)
	h.resolver.On("Resolve", mock.Anything, testDestination, int64(100)).Return("lnbc1dest", nil)
	h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(0))
	h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(blink.PaymentSuccess, nil).Once()

	res := h.orch.Donate(context.Background(), testUser, "alice", nil)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Zero(t, res.Attempt.FeeSats)
}

func TestSettle_UnpaidOutcomes(t *testing.T) {
	tests := []struct {
		conf   blink.Confirmation
		err    error
		status Status
	}{
		{blink.ConfirmationExpired, nil, StatusExpired},
		{blink.ConfirmationTimedOut, nil, StatusTimedOut},
		{blink.ConfirmationCancelled, context.Canceled, StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.conf), func(t *testing.T) {
			h := newHarness(t)
			h.ledger.SetBalance(testUser, 5000)
			inv := collectedInvoice(5000)

			h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)
			h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Return(tt.conf, tt.err)

			res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

			assert.Equal(t, tt.status, res.Status)
			assert.Error(t, res.Err)
			h.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
			h.payer.AssertNotCalled(t, "PayInvoice", mock.Anything, mock.Anything)
			balance, _, _ := h.ledger.Totals(testUser)
			assert.Equal(t, int64(5000), balance)
		})
	}
}

func TestSettle_CancelWhilePolling(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)

	checker := &pendingChecker{}
	poller := blink.NewPoller(checker, 10*time.Millisecond, time.Minute, nil, nil)
	h.orch.deps.Waiter = poller

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.presenter.presentFn = func() error {
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()
		return nil
	}

	res := h.orch.Donate(ctx, testUser, "alice", h.presenter)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	h.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	calls := checker.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, checker.Calls(), "no polling after cancellation")
}

type pendingChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *pendingChecker) InvoiceStatus(ctx context.Context, pr string) (blink.InvoiceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return blink.StatusPending, nil
}

func (c *pendingChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSettle_AmountMismatchFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(collectedInvoice(4999), nil)

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	assert.Equal(t, StatusIssueFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrAmountMismatch)
	assert.Empty(t, h.presenter.invoices, "mismatched invoice is never shown")
}

func TestSettle_IssueFailure(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").
		Return(nil, &blink.TransportError{Operation: "LnInvoiceCreate", Attempts: 3, Err: errors.New("503")})

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	assert.Equal(t, StatusIssueFailed, res.Status)
	var te *blink.TransportError
	assert.ErrorAs(t, res.Err, &te)
	assert.NotEmpty(t, res.Message())
}

func TestSettle_LedgerConflictAfterForward(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)

	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil)
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Run(func(mock.Arguments) {
		// Balance spent elsewhere while the user was paying.
		h.ledger.SetBalance(testUser, 0)
	}).Return(blink.ConfirmationPaid, nil)
	h.resolver.On("Resolve", mock.Anything, testDestination, int64(5000)).Return("lnbc1dest", nil)
	h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(0))
	h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(blink.PaymentSuccess, nil)

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)

	assert.Equal(t, StatusLedgerConflict, res.Status)
	assert.ErrorIs(t, res.Err, db.ErrBalanceConflict)
	assert.Contains(t, res.Message(), "contact support")
}

func TestSettle_RejectedMessages(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Donate(context.Background(), testUser, "alice", h.presenter)
	assert.Equal(t, StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, ErrNothingToDonate)
	assert.Contains(t, res.Message(), "no sats")

	h.ledger.SetBalance(testUser, 5)
	res = h.orch.Donate(context.Background(), testUser, "alice", h.presenter)
	assert.Contains(t, res.Message(), "minimum donation of 10 sats")

	require.Len(t, h.presenter.results, 2)
}

func TestSettle_OneSettlementPerUser(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)
	inv := collectedInvoice(5000)

	release := make(chan struct{})
	entered := make(chan struct{})
	h.issuer.On("CreateInvoice", mock.Anything, int64(5000), "donation").Return(inv, nil).Once()
	h.waiter.On("Await", mock.Anything, inv.PaymentRequest).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(blink.ConfirmationExpired, nil).Once()

	req := Request{UserID: testUser, AmountSats: 5000, Destination: testDestination, Memo: "donation"}
	done := make(chan *Result)
	go func() { done <- h.orch.Settle(context.Background(), req, nil) }()
	<-entered

	second := h.orch.Settle(context.Background(), req, nil)
	assert.Equal(t, StatusRejected, second.Status)
	assert.ErrorIs(t, second.Err, ErrSettlementInProgress)

	close(release)
	first := <-done
	assert.Equal(t, StatusExpired, first.Status)
}

func TestCommit_RefusesUnsuccessfulTransfer(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 5000)

	_, err := h.orch.Commit(context.Background(),
		Request{UserID: testUser, AmountSats: 5000}, collectedInvoice(5000), TransferAttempt{Status: "PENDING"})
	assert.Error(t, err)
	assert.Empty(t, h.ledger.Donations())
}

func TestCommit_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(testUser, 8000)
	req := Request{UserID: testUser, AmountSats: 5000, Destination: testDestination}
	attempt := TransferAttempt{Destination: testDestination, Invoice: "lnbc1dest", Status: "SUCCESS"}

	first, err := h.orch.Commit(context.Background(), req, collectedInvoice(5000), attempt)
	require.NoError(t, err)
	second, err := h.orch.Commit(context.Background(), req, collectedInvoice(5000), attempt)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, _, count := h.ledger.Totals(testUser)
	assert.Equal(t, int64(3000), balance)
	assert.Equal(t, int64(1), count)
}

func TestForward_IgnoresCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.resolver.On("Resolve", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		testDestination, int64(5000)).Return("lnbc1dest", nil)
	h.prober.On("ProbeFee", mock.Anything, "lnbc1dest").Return(int64(1))
	h.payer.On("PayInvoice", mock.Anything, "lnbc1dest").Return(blink.PaymentSuccess, nil)

	attempt, err := h.orch.Forward(ctx, Request{UserID: testUser, AmountSats: 5000, Destination: testDestination},
		collectedInvoice(5000))
	require.NoError(t, err)
	assert.True(t, attempt.Succeeded())
	assert.Equal(t, int64(1), attempt.FeeSats)
}
