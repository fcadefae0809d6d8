package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
)

func TestPollerMergesNewTransactions(t *testing.T) {
	ctx := context.Background()
	history := chain(3, 300) // timestamps 300, 290, 280
	engine, _ := newTestEngine(history)

	// Ledger holds only the oldest transaction.
	_, err := engine.Store().Merge(ctx, history[2:])
	require.NoError(t, err)

	poller := NewPoller(engine, 5*time.Millisecond, nil)
	poller.Start(ctx)
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return engine.Store().Len() == 3
	}, time.Second, time.Millisecond)

	newest, ok := engine.Store().Newest()
	require.True(t, ok)
	assert.Equal(t, int64(300), newest.Timestamp)
}

func TestPollerStartIsIdempotent(t *testing.T) {
	engine, fetcher := newTestEngine(nil)
	poller := NewPoller(engine, time.Hour, nil)

	poller.Start(context.Background())
	poller.Start(context.Background())
	assert.True(t, poller.Running())

	poller.Stop()
	assert.False(t, poller.Running())
	assert.Equal(t, 0, fetcher.callCount(), "no tick should have fired with an hour interval")
}

func TestPollerStopThenRestart(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(chain(2, 200))
	_, err := engine.Store().Merge(ctx, []indexer.RawTransaction{tx("sig-000190", 190)})
	require.NoError(t, err)

	poller := NewPoller(engine, 5*time.Millisecond, nil)
	poller.Start(ctx)
	poller.Stop()
	require.False(t, poller.Running())

	poller.Start(ctx)
	defer poller.Stop()
	require.Eventually(t, func() bool {
		return engine.Store().Len() == 2
	}, time.Second, time.Millisecond)
}

func TestPollerIdlesOnEmptyLedger(t *testing.T) {
	engine, fetcher := newTestEngine(chain(5, 500))
	poller := NewPoller(engine, time.Millisecond, nil)
	poller.Start(context.Background())
	defer poller.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, engine.Store().Len())
	assert.Equal(t, 0, fetcher.callCount(), "polling waits for an initial backfill")
}

func TestPollerSkipsTickWhileSyncInFlight(t *testing.T) {
	ctx := context.Background()
	engine, fetcher := newTestEngine(chain(3, 300))
	_, err := engine.Store().Merge(ctx, []indexer.RawTransaction{tx("sig-000280", 280)})
	require.NoError(t, err)

	// Hold the guard as a long-running sync would.
	require.True(t, engine.tryBegin())
	poller := NewPoller(engine, time.Millisecond, nil)
	poller.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount(), "ticks must not overlap another sync")

	engine.end()
	require.Eventually(t, func() bool {
		return engine.Store().Len() == 3
	}, time.Second, time.Millisecond)
	poller.Stop()
}

// stallFetcher blocks fetches until released and ignores cancellation,
// so an in-flight fetch can complete after Stop has begun.
type stallFetcher struct {
	inner     *fakeFetcher
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (f *stallFetcher) FetchTransactions(ctx context.Context, params indexer.FetchParams) ([]indexer.RawTransaction, error) {
	f.startOnce.Do(func() { close(f.started) })
	<-f.release
	return f.inner.FetchTransactions(context.Background(), params)
}

func TestPollerDiscardsFetchAfterStop(t *testing.T) {
	ctx := context.Background()
	history := chain(3, 300) // timestamps 300, 290, 280
	fetcher := &stallFetcher{
		inner:   &fakeFetcher{history: history},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := NewStore("wallet1", db.NewMemoryStore(), nil, nil)
	engine := NewEngine(store, fetcher, nil, nil)

	// Ledger holds only the oldest transaction, so the fetch would find
	// two fresh ones.
	_, err := store.Merge(ctx, history[2:])
	require.NoError(t, err)

	poller := NewPoller(engine, time.Millisecond, nil)
	poller.Start(ctx)

	// Wait for a tick's fetch to be in flight, then stop the poller
	// while it is still blocked.
	<-fetcher.started
	stopped := make(chan struct{})
	go func() {
		poller.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		return !poller.Running()
	}, time.Second, time.Millisecond)

	close(fetcher.release)
	<-stopped

	// The fetch completed with fresh transactions, but the poller was
	// stopped mid-flight: nothing may have been merged.
	assert.Equal(t, 1, store.Len())
	newest, ok := store.Newest()
	require.True(t, ok)
	assert.Equal(t, int64(280), newest.Timestamp)
}
