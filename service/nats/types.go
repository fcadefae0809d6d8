package nats

import (
	"time"

	"github.com/brojonat/solledger/service/classify"
)

// LedgerUpdateEvent announces that new transactions were merged into a
// wallet's ledger. This is published to the subject
// "ledger.{wallet_address}" in JetStream after the merge has been
// durably persisted, never before.
type LedgerUpdateEvent struct {
	WalletAddress string `json:"wallet_address"`

	// Mode is the sync path that produced the merge: "initial",
	// "incremental", or "poll".
	Mode  string `json:"mode"`
	Added int    `json:"added"`
	Total int    `json:"total"`

	// Transactions are the newly merged transactions in classified form,
	// newest first.
	Transactions []classify.Processed `json:"transactions,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}
