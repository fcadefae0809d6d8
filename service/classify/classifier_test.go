package classify

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solledger/service/indexer"
)

// stubResolver returns uppercase mint prefixes like the real fallback.
type stubResolver struct{}

func (stubResolver) Symbol(_ context.Context, mint string) string {
	if len(mint) > 4 {
		mint = mint[:4]
	}
	return strings.ToUpper(mint)
}

func (stubResolver) Icon(_ context.Context, mint string) string { return "" }

func newTestClassifier() *Classifier {
	return New(DefaultConfig(), stubResolver{}, nil, nil)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClassifySwapEventWinsOverTransfers(t *testing.T) {
	// A populated swap event must be used even when the transfer list
	// tells a conflicting story.
	tx := indexer.RawTransaction{
		Signature: "sig1",
		Timestamp: 100,
		Type:      "SWAP",
		FeePayer:  "wallet1",
		TokenTransfers: []indexer.TokenTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "pool", Mint: "wrongmint", TokenAmount: dec("999")},
		},
		Events: &indexer.TransactionEvents{
			Swap: &indexer.SwapEvent{
				NativeInput: &indexer.NativeSwapLeg{Account: "wallet1", Amount: "2000000000"},
				TokenOutputs: []indexer.TokenSwapLeg{
					{UserAccount: "wallet1", Mint: "usdcmint", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "50000000", Decimals: 6}},
				},
			},
		},
	}

	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")

	require.NotNil(t, p.Received)
	require.NotNil(t, p.Spent)
	assert.Equal(t, "usdcmint", p.Received.Mint)
	assert.True(t, p.Received.Value.Equal(dec("50")))
	assert.Equal(t, indexer.NativeMint, p.Spent.Mint)
	assert.True(t, p.Spent.Value.Equal(dec("2")))
	assert.True(t, p.IsSwap())
}

func TestClassifySimpleTokenTransfer(t *testing.T) {
	// feePayer is the recipient here so the transfer is received.
	recv := indexer.RawTransaction{
		Signature: "sig-in",
		Type:      "TRANSFER",
		FeePayer:  "sender",
		TokenTransfers: []indexer.TokenTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "sender", Mint: "mintA", TokenAmount: dec("5")},
		},
	}
	p := newTestClassifier().Classify(context.Background(), recv, "sender")
	require.NotNil(t, p.Received)
	assert.Nil(t, p.Spent)
	assert.True(t, p.Received.Value.Equal(dec("5")))
	assert.False(t, p.IsSwap())

	sent := indexer.RawTransaction{
		Signature: "sig-out",
		Type:      "TRANSFER",
		FeePayer:  "wallet1",
		TokenTransfers: []indexer.TokenTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "other", Mint: "mintA", TokenAmount: dec("3")},
		},
	}
	p = newTestClassifier().Classify(context.Background(), sent, "wallet1")
	require.NotNil(t, p.Spent)
	assert.Nil(t, p.Received)
	assert.True(t, p.Spent.Value.Equal(dec("3")))
}

func TestClassifySimpleNativeTransfer(t *testing.T) {
	tx := indexer.RawTransaction{
		Signature: "sig2",
		Type:      "TRANSFER",
		FeePayer:  "wallet1",
		NativeTransfers: []indexer.NativeTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "other", Amount: 1_500_000_000},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")
	require.NotNil(t, p.Spent)
	assert.Equal(t, indexer.NativeMint, p.Spent.Mint)
	assert.True(t, p.Spent.Value.Equal(dec("1.5")))
	assert.Equal(t, "SO11", p.Spent.Symbol)
}

func TestClassifySkipsTransferPathForDisguisedSwaps(t *testing.T) {
	// Type mentions swap: the transfer list is unreliable; classification
	// must come from account deltas instead.
	tx := indexer.RawTransaction{
		Signature: "sig3",
		Type:      "UNKNOWN_SWAP",
		FeePayer:  "wallet1",
		TokenTransfers: []indexer.TokenTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "pool", Mint: "noise", TokenAmount: dec("1")},
		},
		AccountData: []indexer.AccountDelta{
			{
				Account: "wallet1",
				TokenBalanceChanges: []indexer.TokenBalanceChange{
					{UserAccount: "wallet1", Mint: "mintB", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "7000000", Decimals: 6}},
				},
			},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")
	require.NotNil(t, p.Received)
	assert.Equal(t, "mintB", p.Received.Mint)
	assert.True(t, p.Received.Value.Equal(dec("7")))
}

func TestClassifySkipsTransferPathForMultipleTokenTransfers(t *testing.T) {
	tx := indexer.RawTransaction{
		Signature: "sig4",
		Type:      "TRANSFER",
		FeePayer:  "wallet1",
		TokenTransfers: []indexer.TokenTransfer{
			{FromUserAccount: "wallet1", ToUserAccount: "a", Mint: "m1", TokenAmount: dec("1")},
			{FromUserAccount: "b", ToUserAccount: "wallet1", Mint: "m2", TokenAmount: dec("2")},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")
	// No account data either, so nothing can be extracted.
	assert.Nil(t, p.Received)
	assert.Nil(t, p.Spent)
}

func TestClassifyAccountDeltasLargestMagnitudeWins(t *testing.T) {
	tx := indexer.RawTransaction{
		Signature: "sig5",
		Type:      "SWAP",
		FeePayer:  "wallet1",
		AccountData: []indexer.AccountDelta{
			{
				Account:             "wallet1",
				NativeBalanceChange: -2_000_000_000,
				TokenBalanceChanges: []indexer.TokenBalanceChange{
					// Primary leg.
					{UserAccount: "wallet1", Mint: "mintOut", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "50000000", Decimals: 6}},
					// Referral fee crumbs, must lose to the primary leg.
					{UserAccount: "wallet1", Mint: "mintFee", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "100", Decimals: 6}},
				},
			},
			{
				Account: "someoneelse",
				TokenBalanceChanges: []indexer.TokenBalanceChange{
					{UserAccount: "someoneelse", Mint: "mintOut", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "-50000000", Decimals: 6}},
				},
			},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")

	require.NotNil(t, p.Received)
	assert.Equal(t, "mintOut", p.Received.Mint)
	assert.True(t, p.Received.Value.Equal(dec("50")))

	require.NotNil(t, p.Spent)
	assert.Equal(t, indexer.NativeMint, p.Spent.Mint)
	assert.True(t, p.Spent.Value.Equal(dec("2")))
	assert.True(t, p.IsSwap())
}

func TestClassifyAccountDeltasDustSuppressed(t *testing.T) {
	tx := indexer.RawTransaction{
		Signature: "sig6",
		Type:      "UNKNOWN",
		AccountData: []indexer.AccountDelta{
			{
				Account: "wallet1",
				// 0.000000005 SOL, far under both native thresholds.
				NativeBalanceChange: -5,
				TokenBalanceChanges: []indexer.TokenBalanceChange{
					// 0.0000005 tokens, under the token dust threshold.
					{UserAccount: "wallet1", Mint: "mintC", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "5", Decimals: 7}},
				},
			},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")
	assert.Nil(t, p.Received)
	assert.Nil(t, p.Spent)
}

func TestClassifyNativeThresholdDependsOnTokenDeltas(t *testing.T) {
	// 0.005 SOL: above the with-tokens threshold, below the alone threshold.
	delta := indexer.AccountDelta{
		Account:             "wallet1",
		NativeBalanceChange: 5_000_000,
	}

	alone := indexer.RawTransaction{
		Signature:   "sig7",
		Type:        "UNKNOWN",
		AccountData: []indexer.AccountDelta{delta},
	}
	p := newTestClassifier().Classify(context.Background(), alone, "wallet1")
	assert.Nil(t, p.Received, "0.005 native alone is below the 0.01 threshold")

	withTokens := alone
	withTokens.AccountData = []indexer.AccountDelta{
		{
			Account:             "wallet1",
			NativeBalanceChange: 5_000_000,
			TokenBalanceChanges: []indexer.TokenBalanceChange{
				{UserAccount: "wallet1", Mint: "mintD", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "-3000000", Decimals: 6}},
			},
		},
	}
	p = newTestClassifier().Classify(context.Background(), withTokens, "wallet1")
	require.NotNil(t, p.Received, "0.005 native qualifies once token deltas exist")
	assert.Equal(t, indexer.NativeMint, p.Received.Mint)
	require.NotNil(t, p.Spent)
	assert.Equal(t, "mintD", p.Spent.Mint)
	assert.True(t, p.Spent.Value.Equal(dec("3")))
}

func TestClassifyIgnoresOtherWalletsTokenAccounts(t *testing.T) {
	tx := indexer.RawTransaction{
		Signature: "sig8",
		Type:      "UNKNOWN",
		AccountData: []indexer.AccountDelta{
			{
				Account: "poolvault",
				TokenBalanceChanges: []indexer.TokenBalanceChange{
					{UserAccount: "poolvault", TokenAccount: "vaultata", Mint: "mintE", RawTokenAmount: indexer.RawTokenAmount{TokenAmount: "9000000", Decimals: 6}},
				},
			},
		},
	}
	p := newTestClassifier().Classify(context.Background(), tx, "wallet1")
	assert.Nil(t, p.Received)
	assert.Nil(t, p.Spent)
}
