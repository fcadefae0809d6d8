package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet syncing.
// Each wallet gets its own schedule that triggers the SyncWalletWorkflow.
type Scheduler interface {
	// CreateWalletSchedule creates a new schedule for syncing a wallet.
	// The schedule triggers the SyncWalletWorkflow on the given interval.
	CreateWalletSchedule(ctx context.Context, address string, initTimestamp int64, interval time.Duration) error

	// UpsertWalletSchedule creates the schedule or updates its interval
	// if it already exists.
	UpsertWalletSchedule(ctx context.Context, address string, initTimestamp int64, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being synced.
	DeleteWalletSchedule(ctx context.Context, address string) error
}

// scheduleID returns the Temporal schedule ID for a wallet address.
func scheduleID(address string) string {
	return "sync-wallet-" + address
}
