package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ManagerFactory builds the full ledger stack for a wallet on first use.
type ManagerFactory func(walletAddress string) (*Manager, error)

// Registry owns the per-wallet ledger managers. It is the single entry
// point shared by the HTTP server, the temporal activities, and the CLI
// so every caller operates on the same stores and single-flight guards.
type Registry struct {
	factory ManagerFactory
	logger  *slog.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates a Registry backed by factory.
func NewRegistry(factory ManagerFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:  factory,
		logger:   logger,
		managers: make(map[string]*Manager),
	}
}

// Get returns the manager for a wallet if one exists.
func (r *Registry) Get(walletAddress string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.managers[walletAddress]
	return mgr, ok
}

// GetOrCreate returns the wallet's manager, building and loading it on
// first use.
func (r *Registry) GetOrCreate(ctx context.Context, walletAddress string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mgr, ok := r.managers[walletAddress]; ok {
		return mgr, nil
	}

	mgr, err := r.factory(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger manager for %s: %w", walletAddress, err)
	}
	if err := mgr.Store().Load(ctx); err != nil {
		return nil, err
	}
	r.managers[walletAddress] = mgr
	r.logger.InfoContext(ctx, "created ledger manager", "wallet", walletAddress)
	return mgr, nil
}

// Remove clears the wallet's ledger and drops its manager.
func (r *Registry) Remove(ctx context.Context, walletAddress string) error {
	r.mu.Lock()
	mgr, ok := r.managers[walletAddress]
	delete(r.managers, walletAddress)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return mgr.Clear(ctx)
}

// Wallets lists the registered wallet addresses.
func (r *Registry) Wallets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.managers))
	for w := range r.managers {
		out = append(out, w)
	}
	return out
}

// Sync brings one wallet's ledger up to date: an initial backfill when
// empty, an incremental sync otherwise.
func (r *Registry) Sync(ctx context.Context, walletAddress string, initTimestamp int64) (*SyncResult, error) {
	mgr, err := r.GetOrCreate(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	return mgr.Engine().Sync(ctx, initTimestamp)
}
