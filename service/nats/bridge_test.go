package nats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
)

func TestBridgePublishesMergesNotReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := ledger.NewStore("wallet1", db.NewMemoryStore(), nil, nil)
	_, err := store.Merge(ctx, []indexer.RawTransaction{
		{Signature: "baseline", Timestamp: 100},
	})
	require.NoError(t, err)

	pub := NewMockPublisher()
	bridge := NewBridge(pub, nil, nil)
	go bridge.Watch(ctx, store)

	// Keep merging fresh transactions until the bridge has published.
	i := 0
	require.Eventually(t, func() bool {
		i++
		_, merr := store.Merge(ctx, []indexer.RawTransaction{
			{Signature: fmt.Sprintf("new-%d", i), Timestamp: int64(100 + i)},
		})
		require.NoError(t, merr)
		return len(pub.GetPublishedEvents()) > 0
	}, time.Second, 10*time.Millisecond)

	events := pub.GetPublishedEvents()
	require.NotEmpty(t, events)
	evt := events[0]
	assert.Equal(t, "wallet1", evt.WalletAddress)
	assert.Equal(t, "merge", evt.Mode)
	assert.GreaterOrEqual(t, evt.Added, 1)
	assert.GreaterOrEqual(t, evt.Total, 2)
}
