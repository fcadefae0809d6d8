package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/solledger/service/balances"
	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/config"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/metrics"
	"github.com/brojonat/solledger/service/temporal"
)

// Server is the HTTP API for the ledger service.
type Server struct {
	addr         string
	cfg          *config.Config
	registry     *ledger.Registry
	scheduler    temporal.Scheduler
	classifier   *classify.Classifier
	recons       *reconstructorCache
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for wallet syncing.
// The oracle supplies current on-chain balances for reconstruction.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, registry *ledger.Registry, scheduler temporal.Scheduler, classifier *classify.Classifier, oracle balances.Oracle, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		registry:     registry,
		scheduler:    scheduler,
		classifier:   classifier,
		recons:       newReconstructorCache(oracle, m, logger),
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Wallet lifecycle routes
	mux.Handle("POST /api/v1/wallets", s.wrap("/api/v1/wallets", handleRegisterWallet(s.registry, s.scheduler, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/wallets", s.wrap("/api/v1/wallets", handleListWallets(s.registry, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}", s.wrap("/api/v1/wallets/{address}", handleGetWallet(s.registry, s.logger)))
	mux.Handle("DELETE /api/v1/wallets/{address}", s.wrap("/api/v1/wallets/{address}", handleUnregisterWallet(s.registry, s.scheduler, s.recons, s.logger)))

	// Ledger routes
	mux.Handle("POST /api/v1/wallets/{address}/sync", s.wrap("/api/v1/wallets/{address}/sync", handleSyncWallet(s.registry, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}/transactions", s.wrap("/api/v1/wallets/{address}/transactions", handleListTransactions(s.registry, s.classifier, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}/balances", s.wrap("/api/v1/wallets/{address}/balances", handleGetBalances(s.registry, s.recons, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/ledger/{address}", handleStreamLedger(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/ledger", handleStreamLedger(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// wrap attaches the HTTP metrics middleware to a handler.
func (s *Server) wrap(name string, h http.Handler) http.Handler {
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// reconstructorCache holds one balance reconstructor per wallet so the
// current-balance oracle snapshot survives across requests. Each
// reconstructor registers as a cache on its wallet's manager so a ledger
// clear invalidates it.
type reconstructorCache struct {
	oracle  balances.Oracle
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	byAddr map[string]*balances.Reconstructor
}

func newReconstructorCache(oracle balances.Oracle, m *metrics.Metrics, logger *slog.Logger) *reconstructorCache {
	return &reconstructorCache{
		oracle:  oracle,
		metrics: m,
		logger:  logger,
		byAddr:  make(map[string]*balances.Reconstructor),
	}
}

// get returns the wallet's reconstructor, building it on first use.
func (rc *reconstructorCache) get(mgr *ledger.Manager) *balances.Reconstructor {
	addr := mgr.Store().Wallet()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rec, ok := rc.byAddr[addr]; ok {
		return rec
	}
	rec := balances.New(mgr.Store(), rc.oracle, rc.metrics, rc.logger)
	mgr.AddCache(rec)
	rc.byAddr[addr] = rec
	return rec
}

// drop forgets the wallet's reconstructor after the wallet is removed.
func (rc *reconstructorCache) drop(addr string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.byAddr, addr)
}
