package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/satsforward/service/blink"
	"github.com/brojonat/satsforward/service/config"
	"github.com/brojonat/satsforward/service/db"
	"github.com/brojonat/satsforward/service/donation"
	"github.com/brojonat/satsforward/service/lnurl"
	"github.com/brojonat/satsforward/service/metrics"
	natspkg "github.com/brojonat/satsforward/service/nats"
	"github.com/brojonat/satsforward/service/server"
	"github.com/brojonat/satsforward/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"destination", cfg.DonationAddress,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool).WithMetrics(metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// The server only prepares and issues; paying out happens on the worker.
	blinkClient := blink.NewClient(cfg.BlinkAPIEndpoint, cfg.BlinkAPIKey,
		blink.WithRetry(cfg.MaxRetries, cfg.RetryDelay),
		blink.WithRequestTimeout(cfg.RequestTimeout),
		blink.WithWalletCurrency(cfg.BlinkWalletCurrency),
		blink.WithDefaultMemo(cfg.DonationMemo),
		blink.WithLogger(logger),
		blink.WithMetrics(metricsCollector),
	)
	orchestrator := donation.New(donation.Config{
		Destination: cfg.DonationAddress,
		Memo:        cfg.DonationMemo,
		MinSats:     cfg.MinDonation,
		MaxSats:     cfg.MaxDonation,
	}, donation.Deps{
		Issuer:   blinkClient,
		Waiter:   blink.NewPoller(blinkClient, cfg.PaymentCheckInterval, cfg.PaymentTimeout, logger, metricsCollector),
		Resolver: lnurl.NewResolver(lnurl.WithTimeout(cfg.LNURLTimeout), lnurl.WithLogger(logger), lnurl.WithMetrics(metricsCollector)),
		Prober:   blinkClient,
		Payer:    blinkClient,
		Ledger:   store,
	}, logger, metricsCollector)

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize Temporal client for starting settlements
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, orchestrator, temporalClient, store, natsPublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"blink_endpoint", cfg.BlinkAPIEndpoint,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
