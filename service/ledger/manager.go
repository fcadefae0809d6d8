package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Invalidator is anything holding derived state that must be discarded
// when the wallet's ledger is reset, such as a cached balance snapshot.
type Invalidator interface {
	Invalidate()
}

// Manager ties one wallet's store, engine, and poller together and owns
// their lifecycle.
type Manager struct {
	store  *Store
	engine *Engine
	poller *Poller
	logger *slog.Logger

	mu     sync.Mutex
	caches []Invalidator
}

// NewManager builds the full ledger stack for one wallet.
func NewManager(store *Store, engine *Engine, poller *Poller, logger *slog.Logger, caches ...Invalidator) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		engine: engine,
		poller: poller,
		caches: caches,
		logger: logger,
	}
}

// AddCache registers derived state to invalidate on Clear.
func (m *Manager) AddCache(c Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Store returns the wallet's ledger store.
func (m *Manager) Store() *Store { return m.store }

// Engine returns the wallet's sync engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Poller returns the wallet's poller.
func (m *Manager) Poller() *Poller { return m.poller }

// Activate loads persisted history, brings the ledger up to date, and
// starts the poller. A sync failure here is returned but does not stop
// the poller from starting; the next tick or scheduled sync retries.
func (m *Manager) Activate(ctx context.Context, initTimestamp int64) error {
	if err := m.store.Load(ctx); err != nil {
		return err
	}

	_, syncErr := m.engine.Sync(ctx, initTimestamp)
	if syncErr != nil {
		m.logger.WarnContext(ctx, "activation sync failed, will retry on next cycle",
			"wallet", m.store.Wallet(),
			"error", syncErr,
		)
	}

	m.poller.Start(ctx)
	return syncErr
}

// Clear stops the poller, empties the ledger, deletes persisted storage,
// and invalidates dependent caches. Used when the active wallet changes.
func (m *Manager) Clear(ctx context.Context) error {
	m.poller.Stop()

	// Wait out any sync still holding the guard so the clear cannot race
	// a merge commit.
	for m.engine.Syncing() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	caches := make([]Invalidator, len(m.caches))
	copy(caches, m.caches)
	m.mu.Unlock()
	for _, c := range caches {
		c.Invalidate()
	}
	m.logger.InfoContext(ctx, "ledger cleared", "wallet", m.store.Wallet())
	return nil
}
