package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/solledger/service/nats"
)

// subscribeCommand subscribes to ledger update events for a wallet.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to ledger update events for a wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to real-time ledger update events published to NATS JetStream.

This command connects to NATS and streams ledger update events for the specified
wallet address. Events are published to the subject: ledger.{wallet_address}

Example:
  solledger nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solledger-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			natsURL := c.String("nats-url")
			durable := c.Bool("durable")
			consumerName := c.String("consumer-name")
			jsonOutput := c.Bool("json")

			return streamLedgerUpdates(address, natsURL, durable, consumerName, jsonOutput)
		},
	}
}

// streamLedgerUpdates connects to NATS and streams ledger update events.
func streamLedgerUpdates(address, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.Subject(address)

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for ledger updates... (Ctrl-C to exit)\n\n")
	}

	// Create consumer config
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	// Create or update consumer
	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Receive messages
	msgChan := make(chan jetstream.Msg, 10)

	// Start consuming in background
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.LedgerUpdateEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				// Output raw JSON
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printLedgerUpdate(count, &event)
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d ledger update(s)\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printLedgerUpdate(n int, event *natspkg.LedgerUpdateEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Ledger Update #%d\n", n)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Wallet:       %s\n", event.WalletAddress)
	fmt.Printf("Mode:         %s\n", event.Mode)
	fmt.Printf("Added:        %d\n", event.Added)
	fmt.Printf("Total:        %d\n", event.Total)
	for _, tx := range event.Transactions {
		fmt.Printf("  %s  %s", tx.Signature, tx.Type)
		if tx.Received != nil {
			fmt.Printf("  +%s %s", tx.Received.Value, tx.Received.Symbol)
		}
		if tx.Spent != nil {
			fmt.Printf("  -%s %s", tx.Spent.Value, tx.Spent.Symbol)
		}
		fmt.Printf("\n")
	}
	fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

// watchCommand waits until a ledger update matching the given jq filters
// arrives, or until the timeout expires.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Aliases:   []string{"await"},
		Usage:     "Wait for a ledger update matching jq filters",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Block until a ledger update event matching all of the given jq filters
arrives for the wallet, then print the event and exit.

Filters are jq expressions evaluated against the event JSON. All filters
must evaluate truthy for the event to match.

Examples:
  # Wait for any incremental update
  solledger wallet watch WALLET --filter '.mode == "incremental"'

  # Wait for an update that added at least 5 transactions
  solledger wallet watch WALLET --filter '.added >= 5'

  # Wait for a received USDC transfer
  solledger wallet watch WALLET \
    --filter '.transactions[] | select(.received.symbol == "USDC")'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq filter expression (repeatable, all must match)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait before giving up",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			natsURL := c.String("nats-url")
			timeout := c.Duration("timeout")
			jsonOutput := c.Bool("json")

			filters, err := compileJQFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}

			return awaitLedgerUpdate(address, natsURL, timeout, filters, jsonOutput)
		},
	}
}

func awaitLedgerUpdate(address, natsURL string, timeout time.Duration, filters []*gojq.Code, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: natspkg.Subject(address),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("⏳ Waiting for matching ledger update (timeout %s)...\n\n", timeout)
	}

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	for {
		select {
		case msg := <-msgChan:
			msg.Ack()

			// Filters run against the generic JSON form of the event.
			var value interface{}
			if err := json.Unmarshal(msg.Data(), &value); err != nil {
				continue
			}
			if !matchesJQFilters(filters, value) {
				continue
			}

			if jsonOutput {
				fmt.Println(string(msg.Data()))
				return nil
			}

			var event natspkg.LedgerUpdateEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Println(string(msg.Data()))
				return nil
			}
			fmt.Printf("✓ Matching ledger update received\n\n")
			printLedgerUpdate(1, &event)
			return nil

		case <-ctx.Done():
			return fmt.Errorf("timed out after %s waiting for a matching ledger update", timeout)
		}
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the LEDGER JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  solledger nats inspect-stream`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			// Connect to NATS
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			// Get stream info
			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("Stream: %s\n", info.Config.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Description:  %s\n", info.Config.Description)
				fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
				fmt.Printf("Messages:     %d\n", info.State.Msgs)
				fmt.Printf("Bytes:        %d\n", info.State.Bytes)
				fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
				fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
				fmt.Printf("Consumers:    %d\n", info.State.Consumers)
				fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
				fmt.Printf("Storage:      %s\n", info.Config.Storage)
				fmt.Printf("\n")
			}

			return nil
		},
	}
}
