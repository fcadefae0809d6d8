package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/metrics"
)

// Store holds one wallet's transaction history: strictly newest-first,
// no duplicate signatures. The full sequence is persisted as a single
// keyed blob after every merge, and subscribers are notified only after
// the blob has been written.
type Store struct {
	wallet  string
	storage db.Storage
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	txs    []indexer.RawTransaction
	bySig  map[string]struct{}
	subs   map[int]chan []indexer.RawTransaction
	nextID int
}

// snapshot is the persisted blob shape.
type snapshot struct {
	Wallet       string                   `json:"wallet"`
	Transactions []indexer.RawTransaction `json:"transactions"`
}

// NewStore creates an empty Store for wallet backed by storage.
// If m is nil, no metrics are recorded.
func NewStore(wallet string, storage db.Storage, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		wallet:  wallet,
		storage: storage,
		metrics: m,
		logger:  logger,
		bySig:   make(map[string]struct{}),
		subs:    make(map[int]chan []indexer.RawTransaction),
	}
}

// Wallet returns the wallet address this store belongs to.
func (s *Store) Wallet() string { return s.wallet }

// storageKey is the fixed identifier under which the blob is persisted.
func (s *Store) storageKey() string { return "ledger:" + s.wallet }

// Load restores the transaction sequence from storage. A missing or
// corrupt blob yields an empty ledger; corruption is logged, never fatal.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.storage.Load(ctx, s.storageKey())
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load ledger for %s: %w", s.wallet, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.WarnContext(ctx, "ledger snapshot corrupt, starting from empty history",
			"wallet", s.wallet,
			"error", err,
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = nil
	s.bySig = make(map[string]struct{}, len(snap.Transactions))
	for _, tx := range snap.Transactions {
		if _, dup := s.bySig[tx.Signature]; dup {
			continue
		}
		s.bySig[tx.Signature] = struct{}{}
		s.txs = append(s.txs, tx)
	}
	indexer.SortNewestFirst(s.txs)

	s.logger.InfoContext(ctx, "loaded ledger from storage",
		"wallet", s.wallet,
		"transactions", len(s.txs),
	)
	if s.metrics != nil {
		s.metrics.RecordLedgerSize(s.wallet, len(s.txs))
	}
	return nil
}

// Len returns the number of stored transactions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// Transactions returns a copy of the full sequence, newest first.
func (s *Store) Transactions() []indexer.RawTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Newest returns the most recent transaction, if any.
func (s *Store) Newest() (indexer.RawTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txs) == 0 {
		return indexer.RawTransaction{}, false
	}
	return s.txs[0], true
}

// Oldest returns the earliest stored transaction, if any.
func (s *Store) Oldest() (indexer.RawTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txs) == 0 {
		return indexer.RawTransaction{}, false
	}
	return s.txs[len(s.txs)-1], true
}

// Merge folds incoming transactions into the sequence, dropping
// signatures already present, re-sorts newest-first, persists, and
// notifies subscribers. It returns the number of transactions actually
// added. Raw transactions are immutable so repeats are simply dropped.
func (s *Store) Merge(ctx context.Context, incoming []indexer.RawTransaction) (int, error) {
	s.mu.Lock()

	added := 0
	for _, tx := range incoming {
		if _, dup := s.bySig[tx.Signature]; dup {
			continue
		}
		s.bySig[tx.Signature] = struct{}{}
		s.txs = append(s.txs, tx)
		added++
	}
	if added == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	indexer.SortNewestFirst(s.txs)
	seq := s.copyLocked()
	total := len(s.txs)
	s.mu.Unlock()

	if err := s.persist(ctx, seq); err != nil {
		return added, err
	}

	s.logger.DebugContext(ctx, "merged transactions into ledger",
		"wallet", s.wallet,
		"added", added,
		"total", total,
	)
	if s.metrics != nil {
		s.metrics.RecordTransactionsMerged(s.wallet, added)
		s.metrics.RecordTransactionsSkipped(s.wallet, "duplicate", len(incoming)-added)
		s.metrics.RecordLedgerSize(s.wallet, total)
	}

	s.notify(seq)
	return added, nil
}

// Clear empties the sequence and deletes the persisted blob.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.txs = nil
	s.bySig = make(map[string]struct{})
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.storageKey()); err != nil {
		return fmt.Errorf("failed to delete ledger for %s: %w", s.wallet, err)
	}
	if s.metrics != nil {
		s.metrics.RecordLedgerSize(s.wallet, 0)
	}
	s.notify(nil)
	return nil
}

// Subscribe registers a listener for merges. The current sequence is
// delivered immediately, then the full sequence again after every
// successful merge. A slow subscriber only ever sees the latest state:
// pending deliveries are replaced, not queued. The returned function
// cancels the subscription.
func (s *Store) Subscribe() (<-chan []indexer.RawTransaction, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan []indexer.RawTransaction, 1)
	s.subs[id] = ch
	ch <- s.copyLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) persist(ctx context.Context, seq []indexer.RawTransaction) error {
	data, err := json.Marshal(snapshot{Wallet: s.wallet, Transactions: seq})
	if err != nil {
		return fmt.Errorf("failed to encode ledger for %s: %w", s.wallet, err)
	}
	if err := s.storage.Save(ctx, s.storageKey(), data); err != nil {
		return fmt.Errorf("failed to persist ledger for %s: %w", s.wallet, err)
	}
	return nil
}

func (s *Store) notify(seq []indexer.RawTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		// Drop any undelivered sequence so the subscriber always gets
		// the latest state next.
		select {
		case <-ch:
		default:
		}
		ch <- seq
	}
}

func (s *Store) copyLocked() []indexer.RawTransaction {
	out := make([]indexer.RawTransaction, len(s.txs))
	copy(out, s.txs)
	return out
}
