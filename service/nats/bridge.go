package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
)

// Bridge relays ledger merges to NATS. It consumes a store subscription,
// classifies the newly merged transactions, and publishes one
// LedgerUpdateEvent per merge. Because store notifications fire only
// after a persist, downstream consumers never see unpersisted state.
type Bridge struct {
	publisher  Publisher
	classifier *classify.Classifier
	logger     *slog.Logger
}

// NewBridge creates a Bridge publishing through publisher.
func NewBridge(publisher Publisher, classifier *classify.Classifier, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{publisher: publisher, classifier: classifier, logger: logger}
}

// Watch follows the store until ctx is canceled or the subscription is
// closed. The initial replay establishes a baseline and is not
// published. Blocks; run it in a goroutine.
func (b *Bridge) Watch(ctx context.Context, store *ledger.Store) {
	ch, cancel := store.Subscribe()
	defer cancel()

	wallet := store.Wallet()
	known := make(map[string]struct{})
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-ch:
			if !ok {
				return
			}
			fresh := diff(known, seq)
			if first {
				first = false
				continue
			}
			if len(fresh) == 0 {
				continue
			}

			event := &LedgerUpdateEvent{
				WalletAddress: wallet,
				Mode:          "merge",
				Added:         len(fresh),
				Total:         len(seq),
				PublishedAt:   time.Now().UTC(),
			}
			if b.classifier != nil {
				event.Transactions = make([]classify.Processed, 0, len(fresh))
				for _, tx := range fresh {
					event.Transactions = append(event.Transactions, b.classifier.Classify(ctx, tx, wallet))
				}
			}

			if err := b.publisher.PublishLedgerUpdate(ctx, event); err != nil {
				b.logger.Error("failed to publish ledger update",
					"wallet", wallet,
					"error", err,
				)
			}
		}
	}
}

// diff returns the transactions in seq not yet in known, newest first,
// and marks them known.
func diff(known map[string]struct{}, seq []indexer.RawTransaction) []indexer.RawTransaction {
	var fresh []indexer.RawTransaction
	for _, tx := range seq {
		if _, ok := known[tx.Signature]; ok {
			continue
		}
		known[tx.Signature] = struct{}{}
		fresh = append(fresh, tx)
	}
	return fresh
}
