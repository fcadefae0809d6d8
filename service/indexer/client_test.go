package indexer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDoer implements Doer for testing without a real indexer.
type mockDoer struct {
	requests []*http.Request
	respond  func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	return m.respond(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestFetchTransactions(t *testing.T) {
	body := `[
		{"signature":"sig2","timestamp":200,"type":"TRANSFER","feePayer":"wallet1","fee":5000},
		{"signature":"sig1","timestamp":100,"type":"SWAP","feePayer":"wallet1","fee":5000}
	]`
	doer := &mockDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, body), nil
	}}
	client := NewClient("https://api.example.com", "test-key", doer, nil, nil)

	txs, err := client.FetchTransactions(context.Background(), FetchParams{
		Address: "wallet1",
		Before:  "sig3",
		Limit:   50,
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "sig2", txs[0].Signature)
	assert.Equal(t, "sig1", txs[1].Signature)
	assert.Equal(t, int64(200), txs[0].Timestamp)

	require.Len(t, doer.requests, 1)
	req := doer.requests[0]
	assert.Equal(t, "/v0/addresses/wallet1/transactions", req.URL.Path)
	q := req.URL.Query()
	assert.Equal(t, "test-key", q.Get("api-key"))
	assert.Equal(t, "sig3", q.Get("before"))
	assert.Equal(t, "50", q.Get("limit"))
}

func TestFetchTransactionsClampsLimit(t *testing.T) {
	doer := &mockDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `[]`), nil
	}}
	client := NewClient("https://api.example.com", "k", doer, nil, nil)

	tests := []struct {
		name  string
		limit int
		want  string
	}{
		{"zero defaults to max", 0, "100"},
		{"over max clamps", 500, "100"},
		{"negative defaults to max", -1, "100"},
		{"in range passes through", 25, "25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer.requests = nil
			_, err := client.FetchTransactions(context.Background(), FetchParams{
				Address: "w",
				Limit:   tt.limit,
			})
			require.NoError(t, err)
			require.Len(t, doer.requests, 1)
			assert.Equal(t, tt.want, doer.requests[0].URL.Query().Get("limit"))
		})
	}
}

func TestFetchTransactionsHTTPError(t *testing.T) {
	doer := &mockDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"error":"rate limited"}`), nil
	}}
	client := NewClient("https://api.example.com", "k", doer, nil, nil)

	_, err := client.FetchTransactions(context.Background(), FetchParams{Address: "w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFetchCurrentBalances(t *testing.T) {
	body := `{
		"nativeBalance": 1500000000,
		"tokens": [
			{"mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","amount":25000000,"decimals":6},
			{"mint":"dust","amount":0,"decimals":9}
		]
	}`
	doer := &mockDoer{respond: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, body), nil
	}}
	client := NewClient("https://api.example.com", "k", doer, nil, nil)

	balances, err := client.FetchCurrentBalances(context.Background(), "wallet1")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.True(t, balances[NativeMint].Equal(decimal.RequireFromString("1.5")),
		"native balance should be converted to SOL, got %s", balances[NativeMint])
	assert.True(t, balances["EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"].Equal(decimal.RequireFromString("25")))
	_, ok := balances["dust"]
	assert.False(t, ok, "zero-amount holdings should be omitted")
}
