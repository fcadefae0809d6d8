package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/metrics"
)

const (
	// pageSize is the per-request page limit the indexer supports.
	pageSize = indexer.MaxPageSize
	// initialBackfillCap bounds how many transactions a single backfill
	// run accumulates.
	initialBackfillCap = 10000
	// incrementalCap bounds the forward fill of one incremental sync.
	incrementalCap = 1000
)

// Fetcher is the indexer boundary the sync engine consumes.
type Fetcher interface {
	FetchTransactions(ctx context.Context, params indexer.FetchParams) ([]indexer.RawTransaction, error)
}

// SyncResult reports the outcome of one sync run.
type SyncResult struct {
	// Skipped is true when another sync was already in flight and this
	// call did nothing.
	Skipped bool   `json:"skipped"`
	Mode    string `json:"mode,omitempty"`
	Fetched int    `json:"fetched"`
	Added   int    `json:"added"`
}

// Engine fills a wallet's ledger from the indexer. All sync paths, the
// poller included, share one single-flight guard: a sync attempted while
// another is running is a logged no-op, never a queued retry, so two
// divergent views of the ledger can never be built concurrently.
type Engine struct {
	store   *Store
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	syncing atomic.Bool
}

// NewEngine creates an Engine for the store's wallet.
// If m is nil, no metrics are recorded.
func NewEngine(store *Store, fetcher Fetcher, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, fetcher: fetcher, metrics: m, logger: logger}
}

// Store returns the ledger store this engine fills.
func (e *Engine) Store() *Store { return e.store }

// tryBegin claims the single-flight guard. It returns false if a sync
// is already running.
func (e *Engine) tryBegin() bool { return e.syncing.CompareAndSwap(false, true) }

// end releases the single-flight guard.
func (e *Engine) end() { e.syncing.Store(false) }

// Syncing reports whether a sync is currently in flight.
func (e *Engine) Syncing() bool { return e.syncing.Load() }

// Sync runs the appropriate sync for the ledger's state: an initial
// backfill when the ledger is empty, an incremental sync otherwise.
func (e *Engine) Sync(ctx context.Context, initTimestamp int64) (*SyncResult, error) {
	if e.store.Len() == 0 {
		return e.RunInitialBackfill(ctx, initTimestamp)
	}
	return e.RunIncrementalSync(ctx, initTimestamp)
}

// RunInitialBackfill walks the wallet's history from the newest page
// backwards, keeping transactions at or after initTimestamp, and commits
// the whole accumulation in one merge. Any fetch error aborts the run
// with nothing committed; a later incremental sync heals the gap.
func (e *Engine) RunInitialBackfill(ctx context.Context, initTimestamp int64) (*SyncResult, error) {
	if !e.tryBegin() {
		e.logger.InfoContext(ctx, "sync already in flight, skipping initial backfill",
			"wallet", e.store.Wallet(),
		)
		return &SyncResult{Skipped: true, Mode: "initial"}, nil
	}
	defer e.end()

	start := time.Now()
	wallet := e.store.Wallet()
	e.logger.InfoContext(ctx, "starting initial backfill",
		"wallet", wallet,
		"init_timestamp", initTimestamp,
	)

	acc, fetched, err := e.fillBackward(ctx, "", initTimestamp, initialBackfillCap)
	if err != nil {
		e.recordSync(wallet, "initial", "error", start)
		return nil, fmt.Errorf("initial backfill failed for %s: %w", wallet, err)
	}

	indexer.SortNewestFirst(acc)
	added, err := e.store.Merge(ctx, acc)
	if err != nil {
		e.recordSync(wallet, "initial", "error", start)
		return nil, err
	}

	e.logger.InfoContext(ctx, "initial backfill complete",
		"wallet", wallet,
		"fetched", fetched,
		"added", added,
		"duration", time.Since(start),
	)
	e.recordSync(wallet, "initial", "success", start)
	if e.metrics != nil {
		e.metrics.RecordTransactionsFetched(wallet, "initial", fetched)
	}
	return &SyncResult{Mode: "initial", Fetched: fetched, Added: added}, nil
}

// RunIncrementalSync fills forward from the newest stored transaction,
// then checks for and heals a gap at the old end left by an interrupted
// backfill. The ledger must be non-empty.
func (e *Engine) RunIncrementalSync(ctx context.Context, initTimestamp int64) (*SyncResult, error) {
	newest, ok := e.store.Newest()
	if !ok {
		return nil, fmt.Errorf("incremental sync requires a non-empty ledger for %s, run initial backfill first", e.store.Wallet())
	}

	if !e.tryBegin() {
		e.logger.InfoContext(ctx, "sync already in flight, skipping incremental sync",
			"wallet", e.store.Wallet(),
		)
		return &SyncResult{Skipped: true, Mode: "incremental"}, nil
	}
	defer e.end()

	start := time.Now()
	wallet := e.store.Wallet()

	newTxs, fetched, err := e.fillForward(ctx, newest.Timestamp)
	if err != nil {
		e.recordSync(wallet, "incremental", "error", start)
		return nil, fmt.Errorf("incremental sync failed for %s: %w", wallet, err)
	}

	// An oldest stored transaction newer than the wallet's origin means
	// a prior backfill was interrupted; resume it from the old end.
	if oldest, ok := e.store.Oldest(); ok && oldest.Timestamp > initTimestamp {
		e.logger.InfoContext(ctx, "ledger gap detected, resuming backfill",
			"wallet", wallet,
			"oldest_stored", oldest.Timestamp,
			"init_timestamp", initTimestamp,
		)
		older, n, err := e.fillBackward(ctx, oldest.Signature, initTimestamp, initialBackfillCap)
		if err != nil {
			e.recordSync(wallet, "incremental", "error", start)
			return nil, fmt.Errorf("gap backfill failed for %s: %w", wallet, err)
		}
		newTxs = append(newTxs, older...)
		fetched += n
	}

	added, err := e.store.Merge(ctx, newTxs)
	if err != nil {
		e.recordSync(wallet, "incremental", "error", start)
		return nil, err
	}

	e.logger.InfoContext(ctx, "incremental sync complete",
		"wallet", wallet,
		"fetched", fetched,
		"added", added,
		"duration", time.Since(start),
	)
	e.recordSync(wallet, "incremental", "success", start)
	if e.metrics != nil {
		e.metrics.RecordTransactionsFetched(wallet, "incremental", fetched)
	}
	return &SyncResult{Mode: "incremental", Fetched: fetched, Added: added}, nil
}

// fillForward pages newest-first, keeping transactions strictly newer
// than sinceTimestamp, until it reaches already-stored history or the
// incremental cap.
func (e *Engine) fillForward(ctx context.Context, sinceTimestamp int64) ([]indexer.RawTransaction, int, error) {
	var kept []indexer.RawTransaction
	fetched := 0
	before := ""

	for {
		page, err := e.fetcher.FetchTransactions(ctx, indexer.FetchParams{
			Address: e.store.Wallet(),
			Before:  before,
			Limit:   pageSize,
		})
		if err != nil {
			return nil, fetched, err
		}
		if len(page) == 0 {
			return kept, fetched, nil
		}
		fetched += len(page)

		reachedStored := false
		for _, tx := range page {
			if tx.Timestamp > sinceTimestamp {
				kept = append(kept, tx)
			} else {
				reachedStored = true
			}
		}
		if reachedStored || len(kept) >= incrementalCap {
			return kept, fetched, nil
		}
		before = page[len(page)-1].Signature
	}
}

// fillBackward pages from the given cursor towards older history,
// keeping transactions at or after initTimestamp, until the history is
// exhausted, the origin boundary is crossed, or cap is reached.
func (e *Engine) fillBackward(ctx context.Context, fromSignature string, initTimestamp int64, maxKeep int) ([]indexer.RawTransaction, int, error) {
	var kept []indexer.RawTransaction
	fetched := 0
	before := fromSignature

	for {
		page, err := e.fetcher.FetchTransactions(ctx, indexer.FetchParams{
			Address: e.store.Wallet(),
			Before:  before,
			Limit:   pageSize,
		})
		if err != nil {
			return nil, fetched, err
		}
		if len(page) == 0 {
			return kept, fetched, nil
		}
		fetched += len(page)

		crossedOrigin := false
		for _, tx := range page {
			if tx.Timestamp >= initTimestamp {
				kept = append(kept, tx)
			} else {
				crossedOrigin = true
			}
		}
		if crossedOrigin || len(kept) >= maxKeep {
			return kept, fetched, nil
		}
		before = page[len(page)-1].Signature
	}
}

func (e *Engine) recordSync(wallet, mode, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordSyncRun(wallet, mode, status, time.Since(start).Seconds())
}
