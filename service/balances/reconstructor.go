package balances

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/metrics"
)

// Oracle supplies a wallet's current on-chain holdings. Consulted only
// when the caller does not supply a snapshot.
type Oracle interface {
	FetchCurrentBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error)
}

// Reconstructor answers point-in-time balance queries by replaying the
// wallet's ledger in reverse from a current snapshot. Its accuracy is
// exactly the ledger's completeness for the queried range, which the
// sync engine's gap healing guarantees.
type Reconstructor struct {
	store   *ledger.Store
	oracle  Oracle
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	current map[string]decimal.Decimal
}

// New creates a Reconstructor over the store's ledger.
// If m is nil, no metrics are recorded.
func New(store *ledger.Store, oracle Oracle, m *metrics.Metrics, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{store: store, oracle: oracle, metrics: m, logger: logger}
}

// At reconstructs the wallet's holdings at the given timestamp. If
// current is nil, the oracle is consulted once and the result cached for
// the life of the process (until Invalidate). Supplying current is the
// preferred, network-free path.
func (r *Reconstructor) At(ctx context.Context, timestamp int64, current map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	start := time.Now()
	wallet := r.store.Wallet()

	if current == nil {
		var err error
		current, err = r.currentBalances(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch current balances for %s: %w", wallet, err)
		}
	}

	snapshot := Replay(current, r.store.Transactions(), wallet, timestamp)

	if r.metrics != nil {
		r.metrics.RecordBalanceReconstruction(wallet, time.Since(start).Seconds())
	}
	r.logger.DebugContext(ctx, "reconstructed balances",
		"wallet", wallet,
		"timestamp", timestamp,
		"mints", len(snapshot),
	)
	return snapshot, nil
}

// Invalidate discards the cached current balances so the next query
// refetches them. Called when the ledger is reset.
func (r *Reconstructor) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

func (r *Reconstructor) currentBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	r.mu.Lock()
	cached := r.current
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	fetched, err := r.oracle.FetchCurrentBalances(ctx, r.store.Wallet())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = fetched
	r.mu.Unlock()
	return fetched, nil
}

// Replay computes the wallet's holdings at timestamp by starting from
// current and undoing every ledger transaction newer than the target,
// newest first: receipts are subtracted, spends added back. Mints whose
// resulting balance is zero or negative are dropped. Pure function; the
// inputs are not mutated.
func Replay(current map[string]decimal.Decimal, txs []indexer.RawTransaction, wallet string, timestamp int64) map[string]decimal.Decimal {
	running := make(map[string]decimal.Decimal, len(current))
	for mint, amt := range current {
		running[mint] = amt
	}

	for _, tx := range txs {
		if tx.Timestamp <= timestamp {
			continue
		}
		invert(running, tx, wallet)
	}

	for mint, amt := range running {
		if !amt.IsPositive() {
			delete(running, mint)
		}
	}
	return running
}

// invert undoes one transaction's effect on the wallet. When the indexer
// recognized a swap, its event legs are the single source of truth for
// that transaction; otherwise the transfer lists are used.
func invert(running map[string]decimal.Decimal, tx indexer.RawTransaction, wallet string) {
	if tx.Events != nil && tx.Events.Swap != nil {
		invertSwap(running, tx.Events.Swap, wallet)
		return
	}

	for _, t := range tx.TokenTransfers {
		if t.ToUserAccount == wallet {
			add(running, t.Mint, t.TokenAmount.Neg())
		}
		if t.FromUserAccount == wallet {
			add(running, t.Mint, t.TokenAmount)
		}
	}
	for _, t := range tx.NativeTransfers {
		if t.ToUserAccount == wallet {
			add(running, indexer.NativeMint, t.Sol().Neg())
		}
		if t.FromUserAccount == wallet {
			add(running, indexer.NativeMint, t.Sol())
		}
	}
}

func invertSwap(running map[string]decimal.Decimal, swap *indexer.SwapEvent, wallet string) {
	// Inputs are what the wallet spent: add them back.
	for _, leg := range swap.TokenInputs {
		if leg.UserAccount == wallet {
			add(running, leg.Mint, leg.RawTokenAmount.Decimal())
		}
	}
	if swap.NativeInput != nil && swap.NativeInput.Account == wallet {
		add(running, indexer.NativeMint, swap.NativeInput.Sol())
	}

	// Outputs are what the wallet received: subtract them.
	for _, leg := range swap.TokenOutputs {
		if leg.UserAccount == wallet {
			add(running, leg.Mint, leg.RawTokenAmount.Decimal().Neg())
		}
	}
	if swap.NativeOutput != nil && swap.NativeOutput.Account == wallet {
		add(running, indexer.NativeMint, swap.NativeOutput.Sol().Neg())
	}
}

func add(running map[string]decimal.Decimal, mint string, delta decimal.Decimal) {
	running[mint] = running[mint].Add(delta)
}
