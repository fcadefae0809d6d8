package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/solledger/service/metrics"
	"github.com/shopspring/decimal"
)

// MaxPageSize is the largest page the indexer will serve per request.
const MaxPageSize = 100

// Doer is the subset of http.Client the indexer client needs.
// This allows us to mock the HTTP layer in tests without a real indexer.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the enriched-transaction indexer API. It is a pure I/O
// boundary: no ledger state, no classification, no retries. Transport and
// HTTP errors propagate to the caller; the duty of retrying lies with the
// next scheduled sync.
type Client struct {
	baseURL  string
	apiKey   string
	http     Doer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	endpoint string // host label for metrics
}

// NewClient creates a new indexer client. If httpClient is nil a default
// client with a 30s timeout is used. If m is nil, no metrics are recorded.
func NewClient(baseURL, apiKey string, httpClient Doer, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := "indexer"
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		endpoint = u.Hostname()
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		http:     httpClient,
		metrics:  m,
		logger:   logger,
		endpoint: endpoint,
	}
}

// FetchParams contains parameters for fetching a page of transactions.
type FetchParams struct {
	Address string
	// Before restricts the page to transactions strictly older than this
	// signature. Empty means "start from the newest".
	Before string
	// Limit caps the page size; clamped to MaxPageSize.
	Limit int
	// Type and Source are optional free-text filters passed through to the
	// indexer (e.g. "SWAP").
	Type   string
	Source string
}

// FetchTransactions fetches one page of enriched transactions for an
// address, newest first. An empty slice means the address has no history
// older than the cursor.
func (c *Client) FetchTransactions(ctx context.Context, params FetchParams) ([]RawTransaction, error) {
	limit := params.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := url.Values{}
	q.Set("api-key", c.apiKey)
	q.Set("limit", strconv.Itoa(limit))
	if params.Before != "" {
		q.Set("before", params.Before)
	}
	if params.Type != "" {
		q.Set("type", params.Type)
	}
	if params.Source != "" {
		q.Set("source", params.Source)
	}

	reqURL := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.baseURL, params.Address, q.Encode())

	c.logger.DebugContext(ctx, "fetching transactions page",
		"address", params.Address,
		"before", params.Before,
		"limit", limit,
	)

	var txs []RawTransaction
	if err := c.getJSON(ctx, "FetchTransactions", reqURL, &txs); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "fetched transactions page",
		"address", params.Address,
		"count", len(txs),
	)
	if c.metrics != nil {
		c.metrics.RecordTransactionsPerPage(c.endpoint, float64(len(txs)))
	}

	return txs, nil
}

// balancesResponse is the wire shape of the indexer's balances endpoint.
type balancesResponse struct {
	NativeBalance int64 `json:"nativeBalance"` // lamports
	Tokens        []struct {
		Mint     string `json:"mint"`
		Amount   int64  `json:"amount"` // raw, unscaled
		Decimals int32  `json:"decimals"`
	} `json:"tokens"`
}

// FetchCurrentBalances fetches the wallet's current on-chain holdings as a
// mint→amount map in whole token units. The native balance is keyed under
// NativeMint.
func (c *Client) FetchCurrentBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("api-key", c.apiKey)
	reqURL := fmt.Sprintf("%s/v0/addresses/%s/balances?%s", c.baseURL, address, q.Encode())

	var resp balancesResponse
	if err := c.getJSON(ctx, "FetchCurrentBalances", reqURL, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(resp.Tokens)+1)
	if resp.NativeBalance > 0 {
		balances[NativeMint] = decimal.NewFromInt(resp.NativeBalance).Div(lamportsPerSol)
	}
	for _, tok := range resp.Tokens {
		if tok.Amount <= 0 {
			continue
		}
		balances[tok.Mint] = decimal.NewFromInt(tok.Amount).Shift(-tok.Decimals)
	}

	c.logger.DebugContext(ctx, "fetched current balances",
		"address", address,
		"mints", len(balances),
	)

	return balances, nil
}

// getJSON performs a GET request and decodes the JSON body into out,
// recording call metrics either way.
func (c *Client) getJSON(ctx context.Context, method, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordIndexerCall(method, status, c.endpoint, duration)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "indexer request failed",
			"method", method,
			"error", err,
		)
		return fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.metrics != nil {
			c.metrics.RecordIndexerCall(method, "http_error", c.endpoint, duration)
		}
		if resp.StatusCode == http.StatusTooManyRequests && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		return fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode indexer response: %w", err)
	}
	return nil
}
