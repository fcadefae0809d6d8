package classify

import (
	"context"
	"log/slog"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/metrics"
)

// Config holds the classification thresholds. These are heuristics tuned
// against observed indexer output, not derived constants, so they are kept
// configurable.
type Config struct {
	// TokenDustThreshold drops token balance deltas smaller than this
	// magnitude in whole token units.
	TokenDustThreshold decimal.Decimal
	// NativeThresholdWithTokens is the minimum native delta considered
	// meaningful when token deltas are also present. Swaps carry small
	// native legs as rent and fees that must not swamp the token signal.
	NativeThresholdWithTokens decimal.Decimal
	// NativeThresholdAlone is the minimum native delta considered
	// meaningful when no token deltas were found.
	NativeThresholdAlone decimal.Decimal
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TokenDustThreshold:        decimal.New(1, -6),
		NativeThresholdWithTokens: decimal.New(1, -3),
		NativeThresholdAlone:      decimal.New(1, -2),
	}
}

// Resolver supplies display metadata for mints. Lookups never fail; an
// unknown mint yields a fallback symbol.
type Resolver interface {
	Symbol(ctx context.Context, mint string) string
	Icon(ctx context.Context, mint string) string
}

// Amount is one side of a classified transaction.
type Amount struct {
	Value   decimal.Decimal `json:"value"`
	Symbol  string          `json:"symbol"`
	Mint    string          `json:"mint"`
	IconURL string          `json:"iconUrl,omitempty"`
}

// Processed is the normalized view of a raw transaction from one wallet's
// perspective. It is derived on demand and never stored.
type Processed struct {
	Signature string  `json:"signature"`
	Timestamp int64   `json:"timestamp"`
	Type      string  `json:"type"`
	Source    string  `json:"source,omitempty"`
	Received  *Amount `json:"received,omitempty"`
	Spent     *Amount `json:"spent,omitempty"`
}

// IsSwap reports whether the transaction exchanged one asset for another.
func (p Processed) IsSwap() bool {
	return p.Received != nil && p.Spent != nil && p.Received.Mint != p.Spent.Mint
}

// Classifier maps raw transactions to received/spent amounts using a
// prioritized cascade: the indexer's swap event when present, then a
// single simple transfer, then raw account balance deltas.
type Classifier struct {
	cfg      Config
	resolver Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Classifier. If m is nil, no metrics are recorded.
func New(cfg Config, resolver Resolver, m *metrics.Metrics, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cfg: cfg, resolver: resolver, metrics: m, logger: logger}
}

// Classify derives the received/spent amounts for tx as seen by wallet.
// It is a pure function of the transaction and wallet; it never mutates
// the ledger and never returns an error.
func (c *Classifier) Classify(ctx context.Context, tx indexer.RawTransaction, wallet string) Processed {
	p := Processed{
		Signature: tx.Signature,
		Timestamp: tx.Timestamp,
		Type:      tx.Type,
		Source:    tx.Source,
	}

	step := "none"
	if c.fromSwapEvent(tx, &p) {
		step = "swap_event"
	}
	if p.Received == nil && p.Spent == nil {
		if c.fromSimpleTransfer(tx, &p) {
			step = "simple_transfer"
		}
	}
	if p.Received == nil || p.Spent == nil {
		if c.fromAccountDeltas(tx, wallet, &p) {
			step = "account_deltas"
		}
	}

	c.resolveDisplay(ctx, &p)

	if c.metrics != nil {
		c.metrics.RecordTransactionClassified(wallet, step)
	}
	return p
}

// fromSwapEvent fills both sides from the indexer's swap event when one
// is present. Token legs win over native legs on each side.
func (c *Classifier) fromSwapEvent(tx indexer.RawTransaction, p *Processed) bool {
	if tx.Events == nil || tx.Events.Swap == nil {
		return false
	}
	swap := tx.Events.Swap

	if len(swap.TokenOutputs) > 0 {
		leg := swap.TokenOutputs[0]
		p.Received = &Amount{Value: leg.RawTokenAmount.Decimal(), Mint: leg.Mint}
	} else if swap.NativeOutput != nil {
		p.Received = &Amount{Value: swap.NativeOutput.Sol(), Mint: indexer.NativeMint}
	}

	if len(swap.TokenInputs) > 0 {
		leg := swap.TokenInputs[0]
		p.Spent = &Amount{Value: leg.RawTokenAmount.Decimal(), Mint: leg.Mint}
	} else if swap.NativeInput != nil {
		p.Spent = &Amount{Value: swap.NativeInput.Sol(), Mint: indexer.NativeMint}
	}

	return p.Received != nil || p.Spent != nil
}

// fromSimpleTransfer handles plain one-leg transfers. Transactions whose
// type mentions a swap, or that carry multiple token transfers, are left
// for the account-delta fallback since their transfer lists mix economic
// legs with routing noise.
func (c *Classifier) fromSimpleTransfer(tx indexer.RawTransaction, p *Processed) bool {
	if strings.Contains(strings.ToLower(tx.Type), "swap") {
		return false
	}
	if len(tx.TokenTransfers) > 1 {
		return false
	}

	if len(tx.TokenTransfers) == 1 {
		t := tx.TokenTransfers[0]
		amt := Amount{Value: t.TokenAmount, Mint: t.Mint}
		switch tx.FeePayer {
		case t.FromUserAccount:
			p.Spent = &amt
		case t.ToUserAccount:
			p.Received = &amt
		}
		return p.Received != nil || p.Spent != nil
	}

	if len(tx.NativeTransfers) > 0 {
		t := tx.NativeTransfers[0]
		amt := Amount{Value: t.Sol(), Mint: indexer.NativeMint}
		switch tx.FeePayer {
		case t.FromUserAccount:
			p.Spent = &amt
		case t.ToUserAccount:
			p.Received = &amt
		}
		return p.Received != nil || p.Spent != nil
	}

	return false
}

// delta is one candidate economic leg found in the account data.
type delta struct {
	mint      string
	magnitude decimal.Decimal
}

// fromAccountDeltas reconstructs the transaction's economic effect from
// raw per-account balance changes. Token deltas belonging to the wallet
// are collected first, then the wallet's native delta is considered with
// a threshold that depends on whether token movement was found. The
// largest magnitude on each side wins, which selects the primary leg of
// a swap over fee and rent dust.
func (c *Classifier) fromAccountDeltas(tx indexer.RawTransaction, wallet string, p *Processed) bool {
	var gains, losses []delta

	for _, acct := range tx.AccountData {
		for _, tbc := range acct.TokenBalanceChanges {
			if !c.ownedByWallet(tbc, wallet) {
				continue
			}
			d := tbc.RawTokenAmount.Decimal()
			if d.Abs().LessThan(c.cfg.TokenDustThreshold) {
				continue
			}
			if d.IsPositive() {
				gains = append(gains, delta{mint: tbc.Mint, magnitude: d})
			} else {
				losses = append(losses, delta{mint: tbc.Mint, magnitude: d.Neg()})
			}
		}
	}

	threshold := c.cfg.NativeThresholdAlone
	if len(gains)+len(losses) > 0 {
		threshold = c.cfg.NativeThresholdWithTokens
	}
	for _, acct := range tx.AccountData {
		if acct.Account != wallet {
			continue
		}
		native := acct.NativeSol()
		if native.Abs().LessThan(threshold) {
			continue
		}
		if native.IsPositive() {
			gains = append(gains, delta{mint: indexer.NativeMint, magnitude: native})
		} else {
			losses = append(losses, delta{mint: indexer.NativeMint, magnitude: native.Neg()})
		}
	}

	filled := false
	if p.Received == nil {
		if best, ok := largest(gains); ok {
			p.Received = &Amount{Value: best.magnitude, Mint: best.mint}
			filled = true
		}
	}
	if p.Spent == nil {
		if best, ok := largest(losses); ok {
			p.Spent = &Amount{Value: best.magnitude, Mint: best.mint}
			filled = true
		}
	}
	return filled
}

// ownedByWallet checks token account ownership either by the indexer's
// owner attribution or by deriving the wallet's associated token account
// for the mint and matching it.
func (c *Classifier) ownedByWallet(tbc indexer.TokenBalanceChange, wallet string) bool {
	if tbc.UserAccount == wallet {
		return true
	}
	if tbc.TokenAccount == "" {
		return false
	}
	owner, err := solanago.PublicKeyFromBase58(wallet)
	if err != nil {
		return false
	}
	mint, err := solanago.PublicKeyFromBase58(tbc.Mint)
	if err != nil {
		return false
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false
	}
	return tbc.TokenAccount == ata.String()
}

// resolveDisplay attaches symbols and icons. Resolution never fails so
// classification never depends on resolver health.
func (c *Classifier) resolveDisplay(ctx context.Context, p *Processed) {
	if c.resolver == nil {
		return
	}
	if p.Received != nil {
		p.Received.Symbol = c.resolver.Symbol(ctx, p.Received.Mint)
		p.Received.IconURL = c.resolver.Icon(ctx, p.Received.Mint)
	}
	if p.Spent != nil {
		p.Spent.Symbol = c.resolver.Symbol(ctx, p.Spent.Mint)
		p.Spent.IconURL = c.resolver.Icon(ctx, p.Spent.Mint)
	}
}

func largest(deltas []delta) (delta, bool) {
	if len(deltas) == 0 {
		return delta{}, false
	}
	best := deltas[0]
	for _, d := range deltas[1:] {
		if d.magnitude.GreaterThan(best.magnitude) {
			best = d
		}
	}
	return best, true
}
