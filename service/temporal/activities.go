package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/metrics"
)

// SyncWalletInput contains the input parameters for syncing a wallet.
type SyncWalletInput struct {
	WalletAddress string `json:"wallet_address"`
	// InitTimestamp is the wallet's origin: history older than this is
	// never fetched.
	InitTimestamp int64 `json:"init_timestamp"`
}

// SyncWalletResult contains the result of syncing a wallet.
type SyncWalletResult struct {
	WalletAddress string    `json:"wallet_address"`
	Mode          string    `json:"mode"`
	Fetched       int       `json:"fetched"`
	Added         int       `json:"added"`
	Skipped       bool      `json:"skipped"`
	SyncTime      time.Time `json:"sync_time"`
	Error         *string   `json:"error,omitempty"`
}

// SyncService is the ledger operation the activities need. The registry
// implements it; tests substitute a mock.
type SyncService interface {
	Sync(ctx context.Context, walletAddress string, initTimestamp int64) (*ledger.SyncResult, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following the project's pattern, all dependencies are explicit.
type Activities struct {
	syncService SyncService
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(syncService SyncService, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		syncService: syncService,
		metrics:     m,
		logger:      logger,
	}
}

// SyncWallet brings one wallet's ledger up to date. A concurrent sync
// already holding the guard is reported as skipped, not an error, so the
// schedule never retries into a running sync.
func (a *Activities) SyncWallet(ctx context.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("SyncWallet", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "syncing wallet ledger",
		"wallet", input.WalletAddress,
		"init_timestamp", input.InitTimestamp,
	)

	res, err := a.syncService.Sync(ctx, input.WalletAddress, input.InitTimestamp)
	if err != nil {
		a.logger.ErrorContext(ctx, "wallet sync failed",
			"wallet", input.WalletAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to sync wallet %s: %w", input.WalletAddress, err)
	}

	if res.Skipped {
		a.logger.InfoContext(ctx, "wallet sync skipped, another sync in flight",
			"wallet", input.WalletAddress,
		)
	} else {
		a.logger.InfoContext(ctx, "wallet sync complete",
			"wallet", input.WalletAddress,
			"mode", res.Mode,
			"fetched", res.Fetched,
			"added", res.Added,
		)
	}

	return &SyncWalletResult{
		WalletAddress: input.WalletAddress,
		Mode:          res.Mode,
		Fetched:       res.Fetched,
		Added:         res.Added,
		Skipped:       res.Skipped,
		SyncTime:      time.Now().UTC(),
	}, nil
}
