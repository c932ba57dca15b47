package main

import (
	"context"
	"log/slog"
	"net/http"
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
	"github.com/brojonat/satsforward/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	store := db.NewStore(dbPool).WithMetrics(metricsCollector)

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize Blink client; it is the issuer, fee prober and payer.
	blinkClient := blink.NewClient(cfg.BlinkAPIEndpoint, cfg.BlinkAPIKey,
		blink.WithRetry(cfg.MaxRetries, cfg.RetryDelay),
		blink.WithRequestTimeout(cfg.RequestTimeout),
		blink.WithWalletCurrency(cfg.BlinkWalletCurrency),
		blink.WithDefaultMemo(cfg.DonationMemo),
		blink.WithLogger(logger),
		blink.WithMetrics(metricsCollector),
	)
	logger.Info("initialized blink client", "endpoint", cfg.BlinkAPIEndpoint, "currency", cfg.BlinkWalletCurrency)

	// Resolve the wallet once up front so a bad key fails at startup.
	if walletID, err := blinkClient.WalletID(ctx); err != nil {
		logger.Warn("failed to resolve blink wallet, will retry on first call", "error", err)
	} else {
		logger.Info("resolved blink wallet", "wallet_id", walletID)
	}

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

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Settler:           orchestrator,
		Publisher:         natsPublisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"destination", cfg.DonationAddress,
		"payment_timeout", cfg.PaymentTimeout,
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
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
