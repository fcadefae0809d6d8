package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/v1/wallets", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAddr, body["address"])
		assert.Equal(t, "1m0s", body["sync_interval"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":       testAddr,
			"transactions":  42,
			"polling":       true,
			"sync_interval": "1m0s",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	wallet, err := c.Register(context.Background(), testAddr, 1700000000, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, testAddr, wallet.Address)
	assert.Equal(t, 42, wallet.Transactions)
	assert.True(t, wallet.Polling)
	assert.Equal(t, time.Minute, wallet.SyncInterval)
}

func TestRegister_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "address is required"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.Register(context.Background(), "", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestUnregister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		require.Equal(t, "/api/v1/wallets/"+testAddr, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	require.NoError(t, c.Unregister(context.Background(), testAddr))
}

func TestSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/v1/wallets/"+testAddr+"/sync", r.URL.Path)
		require.Equal(t, "1700000000", r.URL.Query().Get("init_timestamp"))

		json.NewEncoder(w).Encode(SyncResult{
			WalletAddress: testAddr,
			Mode:          "incremental",
			Fetched:       10,
			Added:         3,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	result, err := c.Sync(context.Background(), testAddr, 1700000000)
	require.NoError(t, err)

	assert.Equal(t, "incremental", result.Mode)
	assert.Equal(t, 3, result.Added)
	assert.False(t, result.Skipped)
}

func TestListTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/wallets/"+testAddr+"/transactions", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "", r.URL.Query().Get("processed"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []map[string]interface{}{
				{"signature": "sig-2", "timestamp": 200},
				{"signature": "sig-1", "timestamp": 100},
			},
			"count": 2,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	txs, err := c.ListTransactions(context.Background(), testAddr, 5, 0)
	require.NoError(t, err)

	require.Len(t, txs, 2)
	assert.Equal(t, "sig-2", txs[0].Signature)
	assert.Equal(t, int64(200), txs[0].Timestamp)
}

func TestListProcessedTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("processed"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []map[string]interface{}{
				{
					"signature": "sig-1",
					"timestamp": 100,
					"type":      "SWAP",
					"received":  map[string]interface{}{"value": "50", "symbol": "USDC"},
					"spent":     map[string]interface{}{"value": "2", "symbol": "SOL"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	txs, err := c.ListProcessedTransactions(context.Background(), testAddr, 0, 0)
	require.NoError(t, err)

	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].Received)
	assert.Equal(t, "USDC", txs[0].Received.Symbol)
	assert.True(t, txs[0].Received.Value.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, txs[0].Spent)
	assert.Equal(t, "SOL", txs[0].Spent.Symbol)
}

func TestBalancesAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/wallets/"+testAddr+"/balances", r.URL.Path)
		require.Equal(t, "1700000000", r.URL.Query().Get("at"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet": testAddr,
			"at":     1700000000,
			"balances": map[string]string{
				"So11111111111111111111111111111111111111112": "12.5",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	balances, err := c.BalancesAt(context.Background(), testAddr, 1700000000)
	require.NoError(t, err)

	require.Len(t, balances, 1)
	assert.True(t, balances["So11111111111111111111111111111111111111112"].Equal(decimal.RequireFromString("12.5")))
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallets": []map[string]interface{}{
				{"address": testAddr, "transactions": 7, "sync_interval": "5m0s"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	wallets, err := c.List(context.Background())
	require.NoError(t, err)

	require.Len(t, wallets, 1)
	assert.Equal(t, testAddr, wallets[0].Address)
	assert.Equal(t, 7, wallets[0].Transactions)
	assert.Equal(t, 5*time.Minute, wallets[0].SyncInterval)
}
