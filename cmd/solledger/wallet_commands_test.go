package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestJQFilterMatching(t *testing.T) {
	tests := []struct {
		name        string
		event       string
		jqFilter    string
		expectMatch bool
	}{
		{
			name:        "mode match",
			event:       `{"mode": "incremental", "added": 2}`,
			jqFilter:    `.mode == "incremental"`,
			expectMatch: true,
		},
		{
			name:        "mode mismatch",
			event:       `{"mode": "poll", "added": 2}`,
			jqFilter:    `.mode == "incremental"`,
			expectMatch: false,
		},
		{
			name:        "added threshold match",
			event:       `{"mode": "incremental", "added": 5}`,
			jqFilter:    `.added >= 5`,
			expectMatch: true,
		},
		{
			name:        "added threshold mismatch",
			event:       `{"mode": "incremental", "added": 2}`,
			jqFilter:    `.added >= 5`,
			expectMatch: false,
		},
		{
			name:        "nested transaction symbol match",
			event:       `{"transactions": [{"received": {"symbol": "USDC", "value": "50"}}]}`,
			jqFilter:    `.transactions[] | select(.received.symbol == "USDC")`,
			expectMatch: true,
		},
		{
			name:        "nested transaction symbol mismatch",
			event:       `{"transactions": [{"received": {"symbol": "SOL", "value": "2"}}]}`,
			jqFilter:    `.transactions[] | select(.received.symbol == "USDC")`,
			expectMatch: false,
		},
		{
			name:        "missing field is falsy",
			event:       `{"mode": "poll"}`,
			jqFilter:    `.wallet_address`,
			expectMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := compileJQFilters([]string{tt.jqFilter})
			if err != nil {
				t.Fatalf("failed to compile jq filter: %v", err)
			}

			var value interface{}
			if err := json.Unmarshal([]byte(tt.event), &value); err != nil {
				t.Fatalf("failed to parse event JSON: %v", err)
			}

			matched := matchesJQFilters(filters, value)
			if matched != tt.expectMatch {
				t.Errorf("expected match=%v, got match=%v", tt.expectMatch, matched)
			}
		})
	}
}

func TestJQFilterMatching_AllMustMatch(t *testing.T) {
	filters, err := compileJQFilters([]string{
		`.mode == "incremental"`,
		`.added >= 2`,
	})
	if err != nil {
		t.Fatalf("failed to compile jq filters: %v", err)
	}

	var matchingEvent interface{}
	json.Unmarshal([]byte(`{"mode": "incremental", "added": 3}`), &matchingEvent)
	if !matchesJQFilters(filters, matchingEvent) {
		t.Error("expected event matching all filters to match")
	}

	var partialEvent interface{}
	json.Unmarshal([]byte(`{"mode": "incremental", "added": 1}`), &partialEvent)
	if matchesJQFilters(filters, partialEvent) {
		t.Error("expected event matching only one filter to not match")
	}
}

func TestCompileJQFilters_InvalidFilter(t *testing.T) {
	_, err := compileJQFilters([]string{`.mode ==`})
	if err == nil {
		t.Fatal("expected parse error for invalid filter")
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		truthy bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero number", 0.0, true},
		{"empty string", "", true},
		{"object", map[string]interface{}{}, true},
		{"array", []interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTruthy(tt.value); got != tt.truthy {
				t.Errorf("isTruthy(%v) = %v, want %v", tt.value, got, tt.truthy)
			}
		})
	}
}

func TestWalletAddCommand(t *testing.T) {
	os.Unsetenv("SOLLEDGER_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/wallets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Address      string `json:"address"`
			SyncInterval string `json:"sync_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Address != "test-wallet-123" {
			t.Errorf("unexpected address: %s", req.Address)
		}
		if req.SyncInterval != "30s" {
			t.Errorf("unexpected sync_interval: %s", req.SyncInterval)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":       req.Address,
			"transactions":  0,
			"syncing":       false,
			"polling":       true,
			"sync_interval": "30s",
		})
	}))
	defer server.Close()

	app := &cli.App{
		Commands: []*cli.Command{
			walletCommands(),
		},
	}

	err := app.Run([]string{"test", "wallet", "add", "--server", server.URL, "--sync-interval", "30s", "test-wallet-123"})
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
}

func TestWalletSyncCommand(t *testing.T) {
	os.Unsetenv("SOLLEDGER_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/wallets/test-wallet-123/sync" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet_address": "test-wallet-123",
			"mode":           "incremental",
			"fetched":        3,
			"added":          2,
			"skipped":        false,
		})
	}))
	defer server.Close()

	app := &cli.App{
		Commands: []*cli.Command{
			walletCommands(),
		},
	}

	err := app.Run([]string{"test", "wallet", "sync", "--server", server.URL, "test-wallet-123"})
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
}

func TestWalletRemoveCommand(t *testing.T) {
	os.Unsetenv("SOLLEDGER_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" || r.URL.Path != "/api/v1/wallets/test-wallet-123" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	app := &cli.App{
		Commands: []*cli.Command{
			walletCommands(),
		},
	}

	err := app.Run([]string{"test", "wallet", "remove", "--server", server.URL, "test-wallet-123"})
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
}

func TestWalletAddCommand_MissingAddress(t *testing.T) {
	app := &cli.App{
		Commands: []*cli.Command{
			walletCommands(),
		},
	}

	err := app.Run([]string{"test", "wallet", "add"})
	if err == nil {
		t.Fatal("expected error when address argument is missing")
	}
}
