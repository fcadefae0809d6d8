package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/config"
	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/metrics"
	natspkg "github.com/brojonat/solledger/service/nats"
	"github.com/brojonat/solledger/service/server"
	"github.com/brojonat/solledger/service/temporal"
	"github.com/brojonat/solledger/service/tokens"
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

	// Each wallet gets its own store, sync engine, and poller; the bridge
	// watches every store and publishes classified merge events.
	factory := func(wallet string) (*ledger.Manager, error) {
		store := ledger.NewStore(wallet, storage, metricsCollector, logger)
		engine := ledger.NewEngine(store, indexerClient, metricsCollector, logger)
		poller := ledger.NewPoller(engine, cfg.PollInterval, logger)
		go bridge.Watch(ctx, store)
		return ledger.NewManager(store, engine, poller, logger), nil
	}
	registry := ledger.NewRegistry(factory, logger)

	// Initialize Temporal client for schedule management
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
	logger.Info("connected to temporal", "host", cfg.TemporalHost, "namespace", cfg.TemporalNamespace)

	// Initialize SSE publisher for streaming ledger updates
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, registry, temporalClient, classifier, indexerClient, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"indexer", cfg.IndexerBaseURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
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
