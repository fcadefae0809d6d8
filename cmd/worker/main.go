package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/config"
	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/metrics"
	natspkg "github.com/brojonat/solledger/service/nats"
	"github.com/brojonat/solledger/service/temporal"
	"github.com/brojonat/solledger/service/tokens"
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

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
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

	// Initialize ledger snapshot storage
	storage := db.NewStore(dbPool, metricsCollector, logger)
	if err := storage.Migrate(ctx); err != nil {
		logger.Error("failed to run storage migration", "error", err)
		os.Exit(1)
	}

	// Initialize enriched-transaction indexer client
	indexerClient := indexer.NewClient(cfg.IndexerBaseURL, cfg.IndexerAPIKey, nil, metricsCollector, logger)
	logger.Info("initialized indexer client", "base_url", cfg.IndexerBaseURL)

	// Initialize token metadata resolver and classifier
	resolver := tokens.NewResolver(cfg.TokenListURL, nil, logger)
	classifier := classify.New(classify.Config{
		TokenDustThreshold:        cfg.TokenDustThreshold,
		NativeThresholdWithTokens: cfg.NativeThresholdWithTokens,
		NativeThresholdAlone:      cfg.NativeThresholdAlone,
	}, resolver, metricsCollector, logger)

	// Initialize NATS publisher and the merge-event bridge
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)
	bridge := natspkg.NewBridge(natsPublisher, classifier, logger)

	// The registry gives the scheduled sync activities the same per-wallet
	// stores and single-flight guards the pollers use.
	factory := func(wallet string) (*ledger.Manager, error) {
		store := ledger.NewStore(wallet, storage, metricsCollector, logger)
		engine := ledger.NewEngine(store, indexerClient, metricsCollector, logger)
		poller := ledger.NewPoller(engine, cfg.PollInterval, logger)
		go bridge.Watch(ctx, store)
		return ledger.NewManager(store, engine, poller, logger), nil
	}
	registry := ledger.NewRegistry(factory, logger)

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		SyncService:       registry,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"indexer", cfg.IndexerBaseURL,
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

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
