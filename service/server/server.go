package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/config"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/donation"
	"github.com/brojonat/satsforward/service/metrics"
	natspkg "github.com/brojonat/satsforward/service/nats"
	"github.com/brojonat/satsforward/service/temporal"
)

// Donations prepares and issues settlements. *donation.Orchestrator implements it.
type Donations interface {
	Prepare(ctx context.Context, userID int64, username string) (donation.Request, error)
	Issue(ctx context.Context, req donation.Request) (*blink.Invoice, error)
}

// Settlements runs settlement workflows. *temporal.Client implements it.
type Settlements interface {
	StartSettlement(ctx context.Context, req donation.Request, inv *blink.Invoice, paymentTimeout time.Duration) (string, error)
	SettlementStatus(ctx context.Context, workflowID string) (*temporal.SettleDonationResult, error)
	CancelSettlement(ctx context.Context, workflowID string) error
}

// Ledger is the read and credit side of the store. *db.Store implements it.
type Ledger interface {
	GetUser(ctx context.Context, userID int64) (*db.User, error)
	RecordActivity(ctx context.Context, params db.RecordActivityParams) (*db.Activity, error)
	ListDonations(ctx context.Context, userID int64, limit, offset int32) ([]*db.Donation, error)
	ListActivities(ctx context.Context, userID int64, limit int32) ([]*db.Activity, error)
	Leaderboard(ctx context.Context, category string, limit int32) ([]db.LeaderboardEntry, error)
	GetUserRanks(ctx context.Context, userID int64) (*db.UserRanks, error)
	SetActivityRate(ctx context.Context, params db.SetActivityRateParams) (*db.ActivityRate, error)
	ListActivityRates(ctx context.Context, userID int64) ([]db.ActivityRate, error)
}

// Server represents the HTTP server for the donation service.
type Server struct {
	addr        string
	cfg         *config.Config
	donations   Donations
	settlements Settlements
	ledger      Ledger
	publisher   natspkg.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	server      *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The publisher is optional - if nil, invoice events are not published.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, donations Donations, settlements Settlements, ledger Ledger, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:        addr,
		cfg:         cfg,
		donations:   donations,
		settlements: settlements,
		ledger:      ledger,
		publisher:   publisher,
		metrics:     m,
		logger:      logger.With("component", "http"),
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Donation routes
	s.handle(mux, "POST /api/v1/donations", "start_donation",
		handleStartDonation(s.donations, s.settlements, s.publisher, s.cfg, s.logger))
	s.handle(mux, "GET /api/v1/donations/{workflow_id}", "get_donation",
		handleGetDonation(s.settlements, s.logger))
	s.handle(mux, "DELETE /api/v1/donations/{workflow_id}", "cancel_donation",
		handleCancelDonation(s.settlements, s.logger))

	// User routes
	s.handle(mux, "GET /api/v1/users/{user_id}", "get_user", handleGetUser(s.ledger, s.logger))
	s.handle(mux, "GET /api/v1/users/{user_id}/settings", "get_settings", handleGetActivityRates(s.ledger, s.logger))
	s.handle(mux, "PUT /api/v1/users/{user_id}/settings", "update_settings", handleSetActivityRates(s.ledger, s.cfg, s.logger))
	s.handle(mux, "POST /api/v1/users/{user_id}/activities", "record_activity", handleRecordActivity(s.ledger, s.logger))
	s.handle(mux, "GET /api/v1/users/{user_id}/activities", "list_activities", handleListActivities(s.ledger, s.logger))
	s.handle(mux, "GET /api/v1/users/{user_id}/donations", "list_donations", handleListDonations(s.ledger, s.logger))
	s.handle(mux, "GET /api/v1/leaderboard", "leaderboard", handleLeaderboard(s.ledger, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	mux.Handle(pattern, h)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // covers invoice issuance with retries
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
