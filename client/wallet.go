package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/solledger/service/classify"
	"github.com/brojonat/solledger/service/indexer"
)

// Wallet describes one wallet's sync state as reported by the server.
type Wallet struct {
	Address         string
	Transactions    int
	NewestTimestamp *int64
	OldestTimestamp *int64
	Syncing         bool
	Polling         bool
	SyncInterval    time.Duration
}

// SyncResult reports the outcome of a triggered sync.
type SyncResult struct {
	WalletAddress string `json:"wallet_address"`
	Mode          string `json:"mode,omitempty"`
	Fetched       int    `json:"fetched"`
	Added         int    `json:"added"`
	Skipped       bool   `json:"skipped"`
}

// Client is the HTTP client for the solledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register tells the server to start syncing a wallet's ledger.
// initTimestamp is the wallet's origin: history older than it is never
// fetched. A zero syncInterval uses the server default.
func (c *Client) Register(ctx context.Context, address string, initTimestamp int64, syncInterval time.Duration) (*Wallet, error) {
	reqBody := map[string]interface{}{
		"address":        address,
		"init_timestamp": initTimestamp,
	}
	if syncInterval > 0 {
		reqBody["sync_interval"] = syncInterval.String()
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/wallets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var apiWallet walletResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiWallet); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("wallet registered", "address", address, "transactions", apiWallet.Transactions)
	return responseToWallet(&apiWallet)
}

// Unregister tells the server to stop syncing a wallet and clear its
// ledger.
func (c *Client) Unregister(ctx context.Context, address string) error {
	u := fmt.Sprintf("%s/api/v1/wallets/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("wallet unregistered", "address", address)
	return nil
}

// Get retrieves the sync state for a specific wallet.
func (c *Client) Get(ctx context.Context, address string) (*Wallet, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s", c.baseURL, url.PathEscape(address))

	var apiWallet walletResponse
	if err := c.getJSON(ctx, u, &apiWallet); err != nil {
		return nil, err
	}
	return responseToWallet(&apiWallet)
}

// List retrieves all registered wallets.
func (c *Client) List(ctx context.Context) ([]*Wallet, error) {
	var response struct {
		Wallets []walletResponse `json:"wallets"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/wallets", &response); err != nil {
		return nil, err
	}

	wallets := make([]*Wallet, len(response.Wallets))
	for i, apiWallet := range response.Wallets {
		wallet, err := responseToWallet(&apiWallet)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet %s: %w", apiWallet.Address, err)
		}
		wallets[i] = wallet
	}

	return wallets, nil
}

// Sync triggers an immediate sync for a wallet. A sync already in
// flight is reported as Skipped.
func (c *Client) Sync(ctx context.Context, address string, initTimestamp int64) (*SyncResult, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/sync", c.baseURL, url.PathEscape(address))
	if initTimestamp > 0 {
		u += "?init_timestamp=" + strconv.FormatInt(initTimestamp, 10)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// ListTransactions retrieves a page of a wallet's ledger, newest first.
func (c *Client) ListTransactions(ctx context.Context, address string, limit, offset int) ([]indexer.RawTransaction, error) {
	u := c.transactionsURL(address, limit, offset, false)

	var response struct {
		Transactions []indexer.RawTransaction `json:"transactions"`
	}
	if err := c.getJSON(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// ListProcessedTransactions retrieves a page of a wallet's ledger in
// classified received/spent form.
func (c *Client) ListProcessedTransactions(ctx context.Context, address string, limit, offset int) ([]classify.Processed, error) {
	u := c.transactionsURL(address, limit, offset, true)

	var response struct {
		Transactions []classify.Processed `json:"transactions"`
	}
	if err := c.getJSON(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// BalancesAt retrieves the wallet's reconstructed balances at a point in
// time. A zero timestamp means now.
func (c *Client) BalancesAt(ctx context.Context, address string, at int64) (map[string]decimal.Decimal, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/balances", c.baseURL, url.PathEscape(address))
	if at > 0 {
		u += "?at=" + strconv.FormatInt(at, 10)
	}

	var response struct {
		Balances map[string]decimal.Decimal `json:"balances"`
	}
	if err := c.getJSON(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Balances, nil
}

func (c *Client) transactionsURL(address string, limit, offset int, processed bool) string {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/transactions", c.baseURL, url.PathEscape(address))
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if processed {
		q.Set("processed", "true")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// walletResponse is the API response format for a wallet.
// The server returns sync_interval as a string (e.g. "5m0s").
type walletResponse struct {
	Address         string  `json:"address"`
	Transactions    int     `json:"transactions"`
	NewestTimestamp *int64  `json:"newest_timestamp,omitempty"`
	OldestTimestamp *int64  `json:"oldest_timestamp,omitempty"`
	Syncing         bool    `json:"syncing"`
	Polling         bool    `json:"polling"`
	SyncInterval    string  `json:"sync_interval,omitempty"`
	SyncError       *string `json:"sync_error,omitempty"`
}

// responseToWallet converts an API response to a domain Wallet.
func responseToWallet(resp *walletResponse) (*Wallet, error) {
	var syncInterval time.Duration
	if resp.SyncInterval != "" {
		parsed, err := time.ParseDuration(resp.SyncInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid sync_interval %q: %w", resp.SyncInterval, err)
		}
		syncInterval = parsed
	}

	return &Wallet{
		Address:         resp.Address,
		Transactions:    resp.Transactions,
		NewestTimestamp: resp.NewestTimestamp,
		OldestTimestamp: resp.OldestTimestamp,
		Syncing:         resp.Syncing,
		Polling:         resp.Polling,
		SyncInterval:    syncInterval,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
