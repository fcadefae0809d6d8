package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncWalletWorkflow is the Temporal workflow that brings one wallet's
// ledger up to date. It is triggered by a per-wallet Temporal schedule
// at a configured interval and delegates the whole sync (initial
// backfill or incremental fill plus gap healing) to the SyncWallet
// activity; the sync itself is idempotent and resumable, so retries are
// always safe.
func SyncWalletWorkflow(ctx workflow.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncWalletWorkflow started", "wallet", input.WalletAddress)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *SyncWalletResult
	err := workflow.ExecuteActivity(ctx, a.SyncWallet, input).Get(ctx, &result)
	if err != nil {
		logger.Error("wallet sync activity failed",
			"wallet", input.WalletAddress,
			"error", err,
		)
		errMsg := fmt.Sprintf("failed to sync wallet: %v", err)
		return &SyncWalletResult{
			WalletAddress: input.WalletAddress,
			SyncTime:      workflow.Now(ctx),
			Error:         &errMsg,
		}, fmt.Errorf("failed to sync wallet: %w", err)
	}

	if result.Skipped {
		logger.Info("wallet sync skipped", "wallet", input.WalletAddress)
	} else {
		logger.Info("SyncWalletWorkflow completed successfully",
			"wallet", input.WalletAddress,
			"mode", result.Mode,
			"added", result.Added,
		)
	}

	return result, nil
}
