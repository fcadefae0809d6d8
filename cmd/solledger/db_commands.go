package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/solledger/service/db"
	"github.com/brojonat/solledger/service/ledger"
)

// ledgerKeyPrefix mirrors the key format the ledger store persists under.
const ledgerKeyPrefix = "ledger:"

func listLedgersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-ledgers",
		Usage:   "List all persisted wallet ledgers",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			keys, err := store.Keys(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list ledgers: %w", err)
			}

			wallets := make([]string, 0, len(keys))
			for _, key := range keys {
				if strings.HasPrefix(key, ledgerKeyPrefix) {
					wallets = append(wallets, strings.TrimPrefix(key, ledgerKeyPrefix))
				}
			}

			if c.Bool("json") {
				return outputJSON(wallets)
			}

			for _, w := range wallets {
				fmt.Println(w)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d ledger(s)\n", len(wallets))
			return nil
		},
	}
}

func showLedgerCommand() *cli.Command {
	return &cli.Command{
		Name:      "show-ledger",
		Usage:     "Show a wallet's persisted ledger",
		Aliases:   []string{"show"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   50,
				Usage:   "Maximum number of transactions to show",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			limit := c.Int("limit")

			storage, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			store := ledger.NewStore(address, storage, nil, nil)
			if err := store.Load(context.Background()); err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}

			txs := store.Transactions()
			if len(txs) == 0 {
				return fmt.Errorf("no ledger found for %s", address)
			}

			total := len(txs)
			if limit > 0 && len(txs) > limit {
				txs = txs[:limit]
			}

			if c.Bool("json") {
				return outputJSON(txs)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tTIME\tTYPE\tSOURCE")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					tx.Signature,
					time.Unix(tx.Timestamp, 0).UTC().Format(time.RFC3339),
					tx.Type,
					tx.Source,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transaction(s)\n", len(txs), total)
			return nil
		},
	}
}

func deleteLedgerCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-ledger",
		Usage:     "Delete a wallet's persisted ledger",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()

			if !c.Bool("force") {
				fmt.Printf("Delete persisted ledger for %s? [y/N]: ", address)
				var answer string
				fmt.Scanln(&answer)
				if answer != "y" && answer != "Y" {
					fmt.Println("Aborted")
					return nil
				}
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Delete(context.Background(), ledgerKeyPrefix+address); err != nil {
				return fmt.Errorf("failed to delete ledger: %w", err)
			}

			fmt.Printf("✓ Deleted ledger for %s\n", address)
			return nil
		},
	}
}

// getStore creates a database connection from CLI flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// outputJSON prints a value as indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
