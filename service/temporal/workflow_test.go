package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestSyncWalletWorkflow(t *testing.T) {
	testWallet := "TestWa11et11111111111111111111111111111"

	tests := []struct {
		name           string
		input          SyncWalletInput
		activityResult *SyncWalletResult
		activityErr    error
		expectedError  bool
		validateResult func(*testing.T, *SyncWalletResult)
	}{
		{
			name: "successful incremental sync",
			input: SyncWalletInput{
				WalletAddress: testWallet,
				InitTimestamp: 1700000000,
			},
			activityResult: &SyncWalletResult{
				WalletAddress: testWallet,
				Mode:          "incremental",
				Fetched:       12,
				Added:         3,
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.Equal(t, testWallet, result.WalletAddress)
				assert.Equal(t, "incremental", result.Mode)
				assert.Equal(t, 3, result.Added)
				assert.False(t, result.Skipped)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "sync skipped while another is in flight",
			input: SyncWalletInput{
				WalletAddress: testWallet,
			},
			activityResult: &SyncWalletResult{
				WalletAddress: testWallet,
				Skipped:       true,
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.True(t, result.Skipped)
				assert.Equal(t, 0, result.Added)
			},
		},
		{
			name: "sync activity fails",
			input: SyncWalletInput{
				WalletAddress: testWallet,
			},
			activityErr:   errors.New("indexer unavailable"),
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			var activities *Activities
			env.RegisterActivity(activities.SyncWallet)
			env.OnActivity(activities.SyncWallet, mock.Anything, tt.input).
				Return(tt.activityResult, tt.activityErr)

			env.ExecuteWorkflow(SyncWalletWorkflow, tt.input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				require.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result *SyncWalletResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, result)
		})
	}
}
