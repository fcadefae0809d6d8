package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solledger/service/indexer"
)

// DefaultPollInterval is how often the poller checks for new transactions.
const DefaultPollInterval = 10 * time.Second

// pollPeekLimit is the lightweight page size used per tick. New activity
// beyond this is picked up by the next incremental sync.
const pollPeekLimit = 10

// Poller periodically peeks at the head of a wallet's history and merges
// anything newer than the stored head. It shares the engine's
// single-flight guard so a tick never overlaps a backfill, an
// incremental sync, or another tick.
type Poller struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a Poller driving engine. A non-positive interval
// falls back to DefaultPollInterval.
func NewPoller(engine *Engine, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{engine: engine, interval: interval, logger: logger}
}

// Start launches the poll loop. Starting an already-running poller is a
// no-op. The loop stops when Stop is called or ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.logger.Debug("poller already running", "wallet", p.engine.Store().Wallet())
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	p.logger.Info("starting poller",
		"wallet", p.engine.Store().Wallet(),
		"interval", p.interval,
	)
	go p.loop(loopCtx)
}

// Stop cancels the loop and waits for it to exit. An in-flight fetch is
// allowed to finish but its results are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("poller stopped", "wallet", p.engine.Store().Wallet())
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick fetches the newest few transactions and merges the ones newer
// than the stored head. The fetch happens without holding any lock; the
// running flag is re-checked before committing so a result that raced a
// Stop is discarded.
func (p *Poller) tick(ctx context.Context) {
	if !p.engine.tryBegin() {
		p.logger.Debug("sync in flight, skipping poll tick",
			"wallet", p.engine.Store().Wallet(),
		)
		return
	}
	defer p.engine.end()

	store := p.engine.Store()
	newest, ok := store.Newest()
	if !ok {
		// Nothing to poll against until an initial backfill has run.
		return
	}

	page, err := p.engine.fetcher.FetchTransactions(ctx, indexer.FetchParams{
		Address: store.Wallet(),
		Limit:   pollPeekLimit,
	})
	if err != nil {
		p.logger.Warn("poll fetch failed",
			"wallet", store.Wallet(),
			"error", err,
		)
		return
	}

	var fresh []indexer.RawTransaction
	for _, tx := range page {
		if tx.Timestamp > newest.Timestamp {
			fresh = append(fresh, tx)
		}
	}
	if len(fresh) == 0 {
		return
	}

	if !p.Running() {
		p.logger.Debug("poller stopped mid-flight, discarding fetched transactions",
			"wallet", store.Wallet(),
			"count", len(fresh),
		)
		return
	}

	added, err := store.Merge(ctx, fresh)
	if err != nil {
		p.logger.Warn("poll merge failed",
			"wallet", store.Wallet(),
			"error", err,
		)
		return
	}
	if added > 0 {
		p.logger.Info("poller merged new transactions",
			"wallet", store.Wallet(),
			"added", added,
		)
	}
}
