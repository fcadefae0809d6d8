package indexer

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// NativeMint is the wrapped-SOL mint address. Native balance changes and
// swap-event native legs are keyed under this mint so that a single
// mint→amount map can describe a whole portfolio.
const NativeMint = "So11111111111111111111111111111111111111112"

// lamportsPerSol is 1e9; native amounts arrive as integer lamports.
var lamportsPerSol = decimal.New(1, 9)

// RawTransaction is one confirmed on-chain event as reported by the
// enriched-transaction indexer. The JSON field names match the indexer's
// wire format; the struct round-trips losslessly through the ledger blob.
type RawTransaction struct {
	Signature        string             `json:"signature"`
	Timestamp        int64              `json:"timestamp"`
	Fee              int64              `json:"fee"`
	FeePayer         string             `json:"feePayer"`
	Type             string             `json:"type"`
	Source           string             `json:"source"`
	Description      string             `json:"description,omitempty"`
	NativeTransfers  []NativeTransfer   `json:"nativeTransfers,omitempty"`
	TokenTransfers   []TokenTransfer    `json:"tokenTransfers,omitempty"`
	AccountData      []AccountDelta     `json:"accountData,omitempty"`
	TransactionError *json.RawMessage   `json:"transactionError,omitempty"`
	Events           *TransactionEvents `json:"events,omitempty"`
}

// BlockTime converts the unix timestamp to a time.Time.
func (t *RawTransaction) BlockTime() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// NativeTransfer is a native-currency transfer between two wallets.
// Amount is in lamports.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// Sol returns the transfer amount in whole SOL units.
func (t NativeTransfer) Sol() decimal.Decimal {
	return decimal.NewFromInt(t.Amount).Div(lamportsPerSol)
}

// TokenTransfer is an SPL token transfer. TokenAmount is already scaled to
// whole token units by the indexer.
type TokenTransfer struct {
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	FromTokenAccount string          `json:"fromTokenAccount"`
	ToTokenAccount   string          `json:"toTokenAccount"`
	Mint             string          `json:"mint"`
	TokenAmount      decimal.Decimal `json:"tokenAmount"`
	TokenStandard    string          `json:"tokenStandard,omitempty"`
}

// AccountDelta is the per-account balance-change record. This is the most
// granular source of truth the indexer provides, and the noisiest: it
// includes rent and fee dust alongside real economic movement.
type AccountDelta struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// NativeSol returns the account's native balance change in whole SOL units.
func (d AccountDelta) NativeSol() decimal.Decimal {
	return decimal.NewFromInt(d.NativeBalanceChange).Div(lamportsPerSol)
}

// TokenBalanceChange is a single token-mint delta on a token account.
type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is an unscaled token amount plus its decimal count.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int32  `json:"decimals"`
}

// Decimal scales the raw amount into whole token units. Unparseable
// amounts yield zero; the indexer has never been observed to emit them,
// and a zero delta is simply ignored downstream.
func (a RawTokenAmount) Decimal() decimal.Decimal {
	v, err := decimal.NewFromString(a.TokenAmount)
	if err != nil {
		return decimal.Zero
	}
	return v.Shift(-a.Decimals)
}

// TransactionEvents holds the indexer's parsed event payloads. Only swap
// events are modeled; other event kinds are ignored.
type TransactionEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// SwapEvent is the indexer's decoded swap, present only when the indexer
// recognized the transaction as a swap. When available it is the cleanest
// signal for what the wallet actually spent and received.
type SwapEvent struct {
	NativeInput  *NativeSwapLeg `json:"nativeInput,omitempty"`
	NativeOutput *NativeSwapLeg `json:"nativeOutput,omitempty"`
	TokenInputs  []TokenSwapLeg `json:"tokenInputs,omitempty"`
	TokenOutputs []TokenSwapLeg `json:"tokenOutputs,omitempty"`
}

// NativeSwapLeg is a native-currency swap leg. Amount is lamports encoded
// as a string on the wire.
type NativeSwapLeg struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Sol returns the leg amount in whole SOL units.
func (l NativeSwapLeg) Sol() decimal.Decimal {
	v, err := decimal.NewFromString(l.Amount)
	if err != nil {
		return decimal.Zero
	}
	return v.Div(lamportsPerSol)
}

// TokenSwapLeg is a token swap leg.
type TokenSwapLeg struct {
	UserAccount    string         `json:"userAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// SortNewestFirst sorts transactions in place, newest first. Signatures
// break timestamp ties so ordering is deterministic across merges.
func SortNewestFirst(txs []RawTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp > txs[j].Timestamp
		}
		return txs[i].Signature > txs[j].Signature
	})
}
