package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/solledger/client"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet ledger management commands",
		Subcommands: []*cli.Command{
			walletAddCommand(),
			walletRemoveCommand(),
			walletGetCommand(),
			walletListCommand(),
			walletSyncCommand(),
			walletTransactionsCommand(),
			walletBalancesCommand(),
			watchCommand(),
		},
	}
}

func cliClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server"), nil, logger)
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"SOLLEDGER_SERVER_URL"},
	}
}

func walletAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Register a wallet for ledger syncing",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.Int64Flag{
				Name:  "init-timestamp",
				Usage: "Unix timestamp of the wallet's origin; history before it is never fetched",
			},
			&cli.DurationFlag{
				Name:    "sync-interval",
				Aliases: []string{"i"},
				Usage:   "How often the scheduled sync runs (e.g., 1m, 5m); server default if unset",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			initTimestamp := c.Int64("init-timestamp")
			syncInterval := c.Duration("sync-interval")
			jsonOutput := c.Bool("json")

			cl := cliClient(c)
			wallet, err := cl.Register(context.Background(), address, initTimestamp, syncInterval)
			if err != nil {
				return fmt.Errorf("failed to register wallet: %w", err)
			}

			if jsonOutput {
				data, _ := json.Marshal(wallet)
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Wallet registered successfully\n")
				fmt.Printf("  Address: %s\n", wallet.Address)
				fmt.Printf("  Transactions: %d\n", wallet.Transactions)
				fmt.Printf("  Sync Interval: %s\n", wallet.SyncInterval)
			}

			return nil
		},
	}
}

func walletRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "delete", "unregister"},
		Usage:     "Unregister a wallet and clear its ledger",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			jsonOutput := c.Bool("json")

			cl := cliClient(c)
			if err := cl.Unregister(context.Background(), address); err != nil {
				return fmt.Errorf("failed to unregister wallet: %w", err)
			}

			if jsonOutput {
				data, _ := json.Marshal(map[string]interface{}{
					"address": address,
					"status":  "unregistered",
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Wallet unregistered successfully\n")
				fmt.Printf("  Address: %s\n", address)
			}

			return nil
		},
	}
}

func walletGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Get sync state for a specific wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			jsonOutput := c.Bool("json")

			cl := cliClient(c)
			wallet, err := cl.Get(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(wallet, "", "  ")
				fmt.Println(string(data))
			} else {
				printWallet(wallet)
			}

			return nil
		},
	}
}

func walletListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all registered wallets (outputs JSON by default)",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "table",
				Aliases: []string{"t"},
				Usage:   "Output as human-readable table instead of JSON",
			},
		},
		Action: func(c *cli.Context) error {
			tableOutput := c.Bool("table")

			cl := cliClient(c)
			wallets, err := cl.List(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if !tableOutput {
				data, _ := json.MarshalIndent(wallets, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(wallets) == 0 {
				fmt.Println("No wallets registered")
				return nil
			}

			fmt.Printf("Found %d wallet(s):\n\n", len(wallets))
			for _, w := range wallets {
				printWallet(w)
			}
			return nil
		},
	}
}

func walletSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Trigger an immediate sync for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.Int64Flag{
				Name:  "init-timestamp",
				Usage: "Unix timestamp of the wallet's origin for gap healing",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			jsonOutput := c.Bool("json")

			cl := cliClient(c)
			result, err := cl.Sync(context.Background(), address, c.Int64("init-timestamp"))
			if err != nil {
				return fmt.Errorf("failed to sync wallet: %w", err)
			}

			if jsonOutput {
				data, _ := json.Marshal(result)
				fmt.Println(string(data))
				return nil
			}

			if result.Skipped {
				fmt.Printf("⚠ Sync skipped: another sync is already in flight\n")
				return nil
			}
			fmt.Printf("✓ Sync complete\n")
			fmt.Printf("  Mode:    %s\n", result.Mode)
			fmt.Printf("  Fetched: %d\n", result.Fetched)
			fmt.Printf("  Added:   %d\n", result.Added)
			return nil
		},
	}
}

func walletTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txs"},
		Usage:     "List a wallet's ledger, newest first",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum number of transactions to list",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Output raw indexer transactions instead of classified ones",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			limit := c.Int("limit")
			offset := c.Int("offset")

			cl := cliClient(c)

			if c.Bool("raw") {
				txs, err := cl.ListTransactions(context.Background(), address, limit, offset)
				if err != nil {
					return fmt.Errorf("failed to list transactions: %w", err)
				}
				data, _ := json.MarshalIndent(txs, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			txs, err := cl.ListProcessedTransactions(context.Background(), address, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(txs, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			for _, tx := range txs {
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Signature: %s\n", tx.Signature)
				fmt.Printf("Time:      %s\n", time.Unix(tx.Timestamp, 0).UTC().Format(time.RFC3339))
				fmt.Printf("Type:      %s\n", tx.Type)
				if tx.Received != nil {
					fmt.Printf("Received:  %s %s\n", tx.Received.Value, tx.Received.Symbol)
				}
				if tx.Spent != nil {
					fmt.Printf("Spent:     %s %s\n", tx.Spent.Value, tx.Spent.Symbol)
				}
			}
			fmt.Printf("\nTotal: %d transaction(s)\n", len(txs))
			return nil
		},
	}
}

func walletBalancesCommand() *cli.Command {
	return &cli.Command{
		Name:      "balances",
		Usage:     "Reconstruct a wallet's balances at a point in time",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.Int64Flag{
				Name:  "at",
				Usage: "Unix timestamp to reconstruct balances at (default: now)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			at := c.Int64("at")
			jsonOutput := c.Bool("json")

			cl := cliClient(c)
			balances, err := cl.BalancesAt(context.Background(), address, at)
			if err != nil {
				return fmt.Errorf("failed to get balances: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(balances, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			when := "now"
			if at > 0 {
				when = time.Unix(at, 0).UTC().Format(time.RFC3339)
			}
			fmt.Printf("Balances for %s at %s:\n", address, when)
			if len(balances) == 0 {
				fmt.Println("  (empty)")
				return nil
			}
			for mint, amount := range balances {
				fmt.Printf("  %s  %s\n", mint, amount)
			}
			return nil
		},
	}
}

// compileJQFilters parses and compiles a set of jq filter expressions.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesJQFilters reports whether every compiled filter evaluates truthy
// against the value.
func matchesJQFilters(filters []*gojq.Code, value interface{}) bool {
	for _, code := range filters {
		iter := code.Run(value)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func printWallet(w *client.Wallet) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Address:       %s\n", w.Address)
	fmt.Printf("Transactions:  %d\n", w.Transactions)
	fmt.Printf("Syncing:       %v\n", w.Syncing)
	fmt.Printf("Polling:       %v\n", w.Polling)
	if w.SyncInterval > 0 {
		fmt.Printf("Sync Interval: %s\n", w.SyncInterval)
	}
	if w.NewestTimestamp != nil {
		fmt.Printf("Newest:        %s\n", time.Unix(*w.NewestTimestamp, 0).UTC().Format(time.RFC3339))
	}
	if w.OldestTimestamp != nil {
		fmt.Printf("Oldest:        %s\n", time.Unix(*w.OldestTimestamp, 0).UTC().Format(time.RFC3339))
	}
	fmt.Println()
}
