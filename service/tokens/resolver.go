package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTokenListURL is the verified token list fetched on first use.
const DefaultTokenListURL = "https://tokens.jup.ag/tokens?tags=verified"

// fetchCooldown limits how often a failed token list fetch is retried.
const fetchCooldown = 5 * time.Minute

// TokenInfo describes a resolved token.
type TokenInfo struct {
	Mint     string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
	IconURL  string `json:"logoURI"`
}

// knownTokens are resolved without any network access.
var knownTokens = map[string]TokenInfo{
	"So11111111111111111111111111111111111111112": {
		Mint:     "So11111111111111111111111111111111111111112",
		Symbol:   "SOL",
		Name:     "Solana",
		Decimals: 9,
	},
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {
		Mint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Symbol:   "USDC",
		Name:     "USD Coin",
		Decimals: 6,
	},
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {
		Mint:     "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
	},
}

// Doer is the subset of http.Client the resolver needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver maps mint addresses to token symbols. Resolution never fails:
// unknown mints fall back to a short uppercase prefix of the address.
// The verified token list is fetched lazily on the first miss and cached
// for the life of the process; fetch failures retry after a cooldown.
type Resolver struct {
	listURL string
	http    Doer
	logger  *slog.Logger

	mu          sync.Mutex
	list        map[string]TokenInfo
	fetching    bool
	lastAttempt time.Time
}

// NewResolver creates a Resolver. If httpClient is nil a default client
// with a 15s timeout is used. If listURL is empty, DefaultTokenListURL
// is used.
func NewResolver(listURL string, httpClient Doer, logger *slog.Logger) *Resolver {
	if listURL == "" {
		listURL = DefaultTokenListURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		listURL: listURL,
		http:    httpClient,
		logger:  logger,
	}
}

// Symbol resolves a mint address to a display symbol. It consults the
// hardcoded set, then the lazily fetched verified list, then falls back
// to an uppercase prefix of the mint. It never returns an error.
func (r *Resolver) Symbol(ctx context.Context, mint string) string {
	if info, ok := knownTokens[mint]; ok {
		return info.Symbol
	}

	if info, ok := r.cachedList(ctx)[mint]; ok && info.Symbol != "" {
		return info.Symbol
	}
	return fallbackSymbol(mint)
}

// cachedList returns the verified token list, fetching it on the first
// miss. The mutex is never held across the network call: at most one
// goroutine fetches, and lookups arriving while that fetch is in flight
// see a nil list and use the fallback instead of waiting.
func (r *Resolver) cachedList(ctx context.Context) map[string]TokenInfo {
	r.mu.Lock()
	if r.list != nil || r.fetching || time.Since(r.lastAttempt) < fetchCooldown {
		list := r.list
		r.mu.Unlock()
		return list
	}
	r.fetching = true
	r.lastAttempt = time.Now()
	r.mu.Unlock()

	list, err := r.fetchList(ctx)

	r.mu.Lock()
	r.fetching = false
	if err != nil {
		r.logger.WarnContext(ctx, "failed to fetch token list, using fallback symbols",
			"url", r.listURL,
			"error", err,
		)
	} else {
		r.list = list
		r.logger.InfoContext(ctx, "loaded verified token list", "tokens", len(list))
	}
	list = r.list
	r.mu.Unlock()
	return list
}

// Icon returns the token's icon URL, or empty when unknown.
func (r *Resolver) Icon(ctx context.Context, mint string) string {
	return r.Lookup(ctx, mint).IconURL
}

// Lookup returns full token info when the mint is known, and a synthetic
// entry built from the fallback symbol otherwise.
func (r *Resolver) Lookup(ctx context.Context, mint string) TokenInfo {
	if info, ok := knownTokens[mint]; ok {
		return info
	}
	r.mu.Lock()
	info, ok := r.list[mint]
	r.mu.Unlock()
	if ok {
		return info
	}
	return TokenInfo{Mint: mint, Symbol: r.Symbol(ctx, mint)}
}

func (r *Resolver) fetchList(ctx context.Context) (map[string]TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token list returned status %d", resp.StatusCode)
	}

	var entries []TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode token list: %w", err)
	}

	list := make(map[string]TokenInfo, len(entries))
	for _, e := range entries {
		if e.Mint != "" {
			list[e.Mint] = e
		}
	}
	return list, nil
}

// fallbackSymbol derives a stable placeholder symbol from a mint address.
func fallbackSymbol(mint string) string {
	if len(mint) > 4 {
		mint = mint[:4]
	}
	return strings.ToUpper(mint)
}
