package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/config"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for wallet registration
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	minSyncInterval    = 10 * time.Second
	maxSyncInterval    = 24 * time.Hour
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleRegisterWallet returns a handler that registers a wallet for
// ledger syncing: it builds the wallet's ledger stack, runs the initial
// sync, starts the poller, and creates a Temporal schedule for periodic
// syncs.
// POST /api/v1/wallets
func handleRegisterWallet(registry *ledger.Registry, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address       string `json:"address"`
			InitTimestamp int64  `json:"init_timestamp"`
			SyncInterval  string `json:"sync_interval"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if req.InitTimestamp < 0 {
			writeError(w, "init_timestamp cannot be negative", http.StatusBadRequest)
			return
		}

		syncInterval := cfg.SyncInterval
		if req.SyncInterval != "" {
			parsed, err := time.ParseDuration(req.SyncInterval)
			if err != nil {
				writeError(w, "invalid sync_interval: must be a valid duration (e.g. '30s', '5m')", http.StatusBadRequest)
				return
			}
			syncInterval = parsed
		}
		if err := validateSyncInterval(syncInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mgr, err := registry.GetOrCreate(r.Context(), req.Address)
		if err != nil {
			logger.Error("failed to create ledger manager", "address", req.Address, "error", err)
			writeError(w, "failed to register wallet", http.StatusInternalServerError)
			return
		}

		// A failed initial sync is not fatal: the schedule and poller
		// retry, so registration still succeeds.
		syncErr := mgr.Activate(r.Context(), req.InitTimestamp)
		if syncErr != nil {
			logger.Warn("initial sync failed during registration",
				"address", req.Address,
				"error", syncErr,
			)
		}

		if err := scheduler.UpsertWalletSchedule(r.Context(), req.Address, req.InitTimestamp, syncInterval); err != nil {
			logger.Error("failed to create schedule", "address", req.Address, "error", err)
			if remErr := registry.Remove(r.Context(), req.Address); remErr != nil {
				logger.Error("failed to rollback wallet registration", "address", req.Address, "error", remErr)
			}
			writeError(w, "failed to create schedule for wallet", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet registered",
			"address", req.Address,
			"init_timestamp", req.InitTimestamp,
			"sync_interval", syncInterval,
			"transactions", mgr.Store().Len(),
		)

		resp := walletToResponse(mgr)
		resp.SyncInterval = syncInterval.String()
		if syncErr != nil {
			msg := syncErr.Error()
			resp.SyncError = &msg
		}
		writeJSON(w, resp, http.StatusCreated)
	})
}

// handleUnregisterWallet returns a handler that removes a wallet: it
// deletes the Temporal schedule, stops the poller, and clears the
// wallet's ledger from memory and storage.
// DELETE /api/v1/wallets/{address}
func handleUnregisterWallet(registry *ledger.Registry, scheduler temporal.Scheduler, recons *reconstructorCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, ok := registry.Get(address); !ok {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		// Delete the schedule first so no sync starts mid-clear. If this
		// fails the wallet stays registered.
		if err := scheduler.DeleteWalletSchedule(r.Context(), address); err != nil {
			logger.Error("failed to delete schedule", "address", address, "error", err)
			writeError(w, "failed to delete schedule for wallet", http.StatusInternalServerError)
			return
		}

		if err := registry.Remove(r.Context(), address); err != nil {
			logger.Error("failed to clear wallet ledger", "address", address, "error", err)
			writeError(w, "failed to unregister wallet", http.StatusInternalServerError)
			return
		}
		recons.drop(address)

		logger.Info("wallet unregistered", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetWallet returns a handler that reports one wallet's sync state.
// GET /api/v1/wallets/{address}
func handleGetWallet(registry *ledger.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mgr, ok := registry.Get(address)
		if !ok {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		writeJSON(w, walletToResponse(mgr), http.StatusOK)
	})
}

// handleListWallets returns a handler that lists all registered wallets.
// GET /api/v1/wallets
func handleListWallets(registry *ledger.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addresses := registry.Wallets()

		resp := make([]walletResponse, 0, len(addresses))
		for _, addr := range addresses {
			mgr, ok := registry.Get(addr)
			if !ok {
				continue
			}
			resp = append(resp, walletToResponse(mgr))
		}

		logger.Debug("wallets listed", "count", len(resp))
		writeJSON(w, map[string]interface{}{
			"wallets": resp,
		}, http.StatusOK)
	})
}

// handleSyncWallet returns a handler that triggers a sync for a wallet.
// A sync already in flight is reported as skipped, not an error.
// POST /api/v1/wallets/{address}/sync?init_timestamp={unix}
func handleSyncWallet(registry *ledger.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, ok := registry.Get(address); !ok {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		var initTimestamp int64
		if raw := r.URL.Query().Get("init_timestamp"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				writeError(w, "invalid init_timestamp: must be a non-negative unix timestamp", http.StatusBadRequest)
				return
			}
			initTimestamp = parsed
		}

		result, err := registry.Sync(r.Context(), address, initTimestamp)
		if err != nil {
			logger.Error("manual sync failed", "address", address, "error", err)
			writeError(w, "sync failed", http.StatusInternalServerError)
			return
		}

		logger.Info("manual sync complete",
			"address", address,
			"mode", result.Mode,
			"fetched", result.Fetched,
			"added", result.Added,
			"skipped", result.Skipped,
		)
		writeJSON(w, syncResponse{
			WalletAddress: address,
			Mode:          result.Mode,
			Fetched:       result.Fetched,
			Added:         result.Added,
			Skipped:       result.Skipped,
		}, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists a wallet's ledger,
// newest first. With ?processed=true each transaction is classified into
// its received/spent form.
// GET /api/v1/wallets/{address}/transactions?limit=N&offset=N&processed=true
func handleListTransactions(registry *ledger.Registry, classifier *classify.Classifier, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		query := r.URL.Query()

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mgr, ok := registry.Get(address)
		if !ok {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		limit, err := parseBoundedInt(query.Get("limit"), 100, 1, 1000, "limit")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseBoundedInt(query.Get("offset"), 0, 0, 1<<31-1, "offset")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txs := mgr.Store().Transactions()
		total := len(txs)
		txs = page(txs, offset, limit)

		logger.Debug("transactions listed", "wallet", address, "count", len(txs), "total", total)

		if query.Get("processed") == "true" {
			processed := make([]classify.Processed, len(txs))
			for i := range txs {
				processed[i] = classifier.Classify(r.Context(), txs[i], address)
			}
			writeJSON(w, map[string]interface{}{
				"transactions": processed,
				"count":        len(processed),
				"total":        total,
				"limit":        limit,
				"offset":       offset,
			}, http.StatusOK)
			return
		}

		writeJSON(w, map[string]interface{}{
			"transactions": txs,
			"count":        len(txs),
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleGetBalances returns a handler that reconstructs a wallet's
// balances at a point in time by replaying the ledger backwards from the
// current on-chain state.
// GET /api/v1/wallets/{address}/balances?at={unix}
func handleGetBalances(registry *ledger.Registry, recons *reconstructorCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mgr, ok := registry.Get(address)
		if !ok {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		at := time.Now().Unix()
		if raw := r.URL.Query().Get("at"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				writeError(w, "invalid at: must be a non-negative unix timestamp", http.StatusBadRequest)
				return
			}
			at = parsed
		}

		result, err := recons.get(mgr).At(r.Context(), at, nil)
		if err != nil {
			logger.Error("balance reconstruction failed", "address", address, "at", at, "error", err)
			writeError(w, "failed to reconstruct balances", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"wallet":   address,
			"at":       at,
			"balances": result,
		}, http.StatusOK)
	})
}

// walletResponse is the JSON response format for a wallet's sync state.
type walletResponse struct {
	Address         string  `json:"address"`
	Transactions    int     `json:"transactions"`
	NewestTimestamp *int64  `json:"newest_timestamp,omitempty"`
	OldestTimestamp *int64  `json:"oldest_timestamp,omitempty"`
	Syncing         bool    `json:"syncing"`
	Polling         bool    `json:"polling"`
	SyncInterval    string  `json:"sync_interval,omitempty"`
	SyncError       *string `json:"sync_error,omitempty"`
}

func walletToResponse(mgr *ledger.Manager) walletResponse {
	resp := walletResponse{
		Address:      mgr.Store().Wallet(),
		Transactions: mgr.Store().Len(),
		Syncing:      mgr.Engine().Syncing(),
		Polling:      mgr.Poller().Running(),
	}
	if newest, ok := mgr.Store().Newest(); ok {
		ts := newest.Timestamp
		resp.NewestTimestamp = &ts
	}
	if oldest, ok := mgr.Store().Oldest(); ok {
		ts := oldest.Timestamp
		resp.OldestTimestamp = &ts
	}
	return resp
}

// syncResponse is the JSON response format for a sync trigger.
type syncResponse struct {
	WalletAddress string `json:"wallet_address"`
	Mode          string `json:"mode,omitempty"`
	Fetched       int    `json:"fetched"`
	Added         int    `json:"added"`
	Skipped       bool   `json:"skipped"`
}

// page applies offset/limit to a newest-first slice.
func page(txs []indexer.RawTransaction, offset, limit int) []indexer.RawTransaction {
	if offset >= len(txs) {
		return nil
	}
	txs = txs[offset:]
	if limit < len(txs) {
		txs = txs[:limit]
	}
	return txs
}

// parseBoundedInt parses an optional integer query parameter with bounds.
func parseBoundedInt(raw string, def, min, max int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if parsed < min {
		return 0, errorf("%s must be at least %d", name, min)
	}
	if parsed > max {
		return 0, errorf("%s cannot exceed %d", name, max)
	}
	return parsed, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateSyncInterval validates a sync interval for reasonable bounds.
func validateSyncInterval(interval time.Duration) error {
	if interval <= 0 {
		return errorf("sync_interval must be positive")
	}

	if interval < minSyncInterval {
		return errorf("sync_interval must be at least %v", minSyncInterval)
	}

	if interval > maxSyncInterval {
		return errorf("sync_interval cannot exceed %v", maxSyncInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
