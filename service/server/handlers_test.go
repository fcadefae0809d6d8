package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/config"
	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/indexer"
	"github.com/brojonat/solledger/service/ledger"
	"github.com/brojonat/solledger/service/temporal"
)

const testAddr = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"

// fetcherStub serves a fixed newest-first history, honoring the Before
// cursor and page limit.
type fetcherStub struct {
	history []indexer.RawTransaction
	err     error
}

func (f *fetcherStub) FetchTransactions(ctx context.Context, params indexer.FetchParams) ([]indexer.RawTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	start := 0
	if params.Before != "" {
		for i, tx := range f.history {
			if tx.Signature == params.Before {
				start = i + 1
				break
			}
		}
	}
	end := start + params.Limit
	if end > len(f.history) {
		end = len(f.history)
	}
	if start >= len(f.history) {
		return nil, nil
	}
	return f.history[start:end], nil
}

// oracleStub returns fixed current balances.
type oracleStub struct {
	balances map[string]decimal.Decimal
	err      error
}

func (o *oracleStub) FetchCurrentBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.balances, nil
}

// resolverStub resolves symbols without any network calls.
type resolverStub struct{}

func (resolverStub) Symbol(ctx context.Context, mint string) string {
	if len(mint) >= 4 {
		return strings.ToUpper(mint[:4])
	}
	return strings.ToUpper(mint)
}

func (resolverStub) Icon(ctx context.Context, mint string) string { return "" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRegistry builds a registry whose managers are backed by an
// in-memory store and the given fetcher stub.
func newTestRegistry(t *testing.T, fetcher ledger.Fetcher) *ledger.Registry {
	t.Helper()
	logger := testLogger()
	storage := db.NewMemoryStore()
	factory := func(wallet string) (*ledger.Manager, error) {
		store := ledger.NewStore(wallet, storage, nil, logger)
		engine := ledger.NewEngine(store, fetcher, nil, logger)
		poller := ledger.NewPoller(engine, time.Hour, logger)
		return ledger.NewManager(store, engine, poller, logger), nil
	}
	return ledger.NewRegistry(factory, logger)
}

func historyOf(n int, newestTS int64) []indexer.RawTransaction {
	out := make([]indexer.RawTransaction, n)
	for i := 0; i < n; i++ {
		out[i] = indexer.RawTransaction{
			Signature: fmt.Sprintf("sig-%06d", n-i),
			Timestamp: newestTS - int64(i)*10,
			Type:      "TRANSFER",
		}
	}
	return out
}

func registerWallet(t *testing.T, registry *ledger.Registry, scheduler temporal.Scheduler) {
	t.Helper()
	cfg := &config.Config{SyncInterval: 5 * time.Minute}
	handler := handleRegisterWallet(registry, scheduler, cfg, testLogger())

	body := fmt.Sprintf(`{"address":%q}`, testAddr)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRegisterWallet(t *testing.T) {
	fetcher := &fetcherStub{history: historyOf(5, 1000)}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	cfg := &config.Config{SyncInterval: 5 * time.Minute}
	handler := handleRegisterWallet(registry, scheduler, cfg, testLogger())

	body := fmt.Sprintf(`{"address":%q,"init_timestamp":0,"sync_interval":"1m"}`, testAddr)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp walletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testAddr, resp.Address)
	assert.Equal(t, 5, resp.Transactions)
	assert.True(t, resp.Polling)
	assert.Equal(t, "1m0s", resp.SyncInterval)

	assert.True(t, scheduler.ScheduleExists(testAddr))
	interval, ok := scheduler.GetScheduleInterval(testAddr)
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)

	mgr, ok := registry.Get(testAddr)
	require.True(t, ok)
	t.Cleanup(func() { mgr.Poller().Stop() })
}

func TestRegisterWallet_PathologicalInput(t *testing.T) {
	registry := newTestRegistry(t, &fetcherStub{})
	scheduler := temporal.NewMockScheduler()
	cfg := &config.Config{SyncInterval: 5 * time.Minute}
	handler := handleRegisterWallet(registry, scheduler, cfg, testLogger())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantError      string
	}{
		{
			name:           "extremely large request body",
			body:           `{"address":"` + strings.Repeat("A", 10*1024*1024) + `"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "request body too large",
		},
		{
			name:           "malformed JSON",
			body:           `{"address":"wallet123","sync_interval":`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid request body",
		},
		{
			name:           "missing address",
			body:           `{"sync_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "address is required",
		},
		{
			name:           "address too long",
			body:           `{"address":"` + strings.Repeat("A", 500) + `"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "address too long",
		},
		{
			name:           "address with invalid base58 characters",
			body:           `{"address":"wallet_0OIl!"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid address format",
		},
		{
			name:           "negative init timestamp",
			body:           fmt.Sprintf(`{"address":%q,"init_timestamp":-5}`, testAddr),
			expectedStatus: http.StatusBadRequest,
			wantError:      "init_timestamp cannot be negative",
		},
		{
			name:           "unparseable sync interval",
			body:           fmt.Sprintf(`{"address":%q,"sync_interval":"soon"}`, testAddr),
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid sync_interval",
		},
		{
			name:           "sync interval too short",
			body:           fmt.Sprintf(`{"address":%q,"sync_interval":"1s"}`, testAddr),
			expectedStatus: http.StatusBadRequest,
			wantError:      "sync_interval must be at least",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantError)
		})
	}
}

func TestUnregisterWallet(t *testing.T) {
	fetcher := &fetcherStub{history: historyOf(3, 1000)}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	recons := newReconstructorCache(&oracleStub{}, nil, testLogger())
	registerWallet(t, registry, scheduler)

	handler := handleUnregisterWallet(registry, scheduler, recons, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/wallets/"+testAddr, nil)
	req.SetPathValue("address", testAddr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.False(t, scheduler.ScheduleExists(testAddr))
	_, ok := registry.Get(testAddr)
	assert.False(t, ok)
}

func TestUnregisterWallet_NotFound(t *testing.T) {
	registry := newTestRegistry(t, &fetcherStub{})
	scheduler := temporal.NewMockScheduler()
	recons := newReconstructorCache(&oracleStub{}, nil, testLogger())

	handler := handleUnregisterWallet(registry, scheduler, recons, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/wallets/"+testAddr, nil)
	req.SetPathValue("address", testAddr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncWallet(t *testing.T) {
	fetcher := &fetcherStub{history: historyOf(7, 1000)}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	registerWallet(t, registry, scheduler)
	mgr, _ := registry.Get(testAddr)
	t.Cleanup(func() { mgr.Poller().Stop() })

	// New activity lands after registration.
	fetcher.history = append([]indexer.RawTransaction{
		{Signature: "sig-new-2", Timestamp: 1020, Type: "TRANSFER"},
		{Signature: "sig-new-1", Timestamp: 1010, Type: "TRANSFER"},
	}, fetcher.history...)

	handler := handleSyncWallet(registry, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets/"+testAddr+"/sync", nil)
	req.SetPathValue("address", testAddr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "incremental", resp.Mode)
	assert.Equal(t, 2, resp.Added)
	assert.False(t, resp.Skipped)
}

func TestListTransactions(t *testing.T) {
	fetcher := &fetcherStub{history: historyOf(10, 1000)}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	registerWallet(t, registry, scheduler)
	mgr, _ := registry.Get(testAddr)
	t.Cleanup(func() { mgr.Poller().Stop() })

	classifier := classify.New(classify.DefaultConfig(), resolverStub{}, nil, testLogger())
	handler := handleListTransactions(registry, classifier, testLogger())

	t.Run("raw with paging", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr+"/transactions?limit=3&offset=2", nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Transactions []indexer.RawTransaction `json:"transactions"`
			Count        int                      `json:"count"`
			Total        int                      `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, 10, resp.Total)
		// Newest first, so offset 2 starts at the third-newest.
		assert.Equal(t, "sig-000008", resp.Transactions[0].Signature)
	})

	t.Run("processed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr+"/transactions?processed=true&limit=2", nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Transactions []classify.Processed `json:"transactions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Transactions, 2)
		assert.Equal(t, "sig-000010", resp.Transactions[0].Signature)
	})

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr+"/transactions?limit=9999", nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetBalances(t *testing.T) {
	// One swap at t=100: spent 2 SOL, received 50 USDC.
	swap := indexer.RawTransaction{
		Signature: "swap-1",
		Timestamp: 100,
		Type:      "SWAP",
		FeePayer:  testAddr,
	}
	swap.Events = &indexer.TransactionEvents{}
	swap.Events.Swap = &indexer.SwapEvent{
		NativeInput: &indexer.NativeSwapLeg{
			Account: testAddr,
			Amount:  "2000000000",
		},
		TokenOutputs: []indexer.TokenSwapLeg{
			{
				UserAccount: testAddr,
				Mint:        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				RawTokenAmount: indexer.RawTokenAmount{
					TokenAmount: "50000000",
					Decimals:    6,
				},
			},
		},
	}

	fetcher := &fetcherStub{history: []indexer.RawTransaction{swap}}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	registerWallet(t, registry, scheduler)
	mgr, _ := registry.Get(testAddr)
	t.Cleanup(func() { mgr.Poller().Stop() })

	oracle := &oracleStub{balances: map[string]decimal.Decimal{
		indexer.NativeMint: decimal.NewFromInt(8),
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": decimal.NewFromInt(50),
	}}
	recons := newReconstructorCache(oracle, nil, testLogger())
	handler := handleGetBalances(registry, recons, testLogger())

	t.Run("before the swap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr+"/balances?at=50", nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Balances map[string]decimal.Decimal `json:"balances"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Balances[indexer.NativeMint].Equal(decimal.NewFromInt(10)))
		_, hasUSDC := resp.Balances["EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"]
		assert.False(t, hasUSDC)
	})

	t.Run("after the swap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr+"/balances?at=150", nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Balances map[string]decimal.Decimal `json:"balances"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Balances[indexer.NativeMint].Equal(decimal.NewFromInt(8)))
		assert.True(t, resp.Balances["EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"].Equal(decimal.NewFromInt(50)))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		other := "7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv"
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+other+"/balances", nil)
		req.SetPathValue("address", other)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetWalletAndList(t *testing.T) {
	fetcher := &fetcherStub{history: historyOf(4, 1000)}
	registry := newTestRegistry(t, fetcher)
	scheduler := temporal.NewMockScheduler()
	registerWallet(t, registry, scheduler)
	mgr, _ := registry.Get(testAddr)
	t.Cleanup(func() { mgr.Poller().Stop() })

	t.Run("get", func(t *testing.T) {
		handler := handleGetWallet(registry, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+testAddr, nil)
		req.SetPathValue("address", testAddr)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp walletResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 4, resp.Transactions)
		require.NotNil(t, resp.NewestTimestamp)
		assert.Equal(t, int64(1000), *resp.NewestTimestamp)
		require.NotNil(t, resp.OldestTimestamp)
		assert.Equal(t, int64(970), *resp.OldestTimestamp)
	})

	t.Run("list", func(t *testing.T) {
		handler := handleListWallets(registry, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Wallets []walletResponse `json:"wallets"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Wallets, 1)
		assert.Equal(t, testAddr, resp.Wallets[0].Address)
	})
}
