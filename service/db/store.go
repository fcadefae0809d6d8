package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solledger/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no blob exists for a key.
var ErrNotFound = errors.New("not found")

// Storage persists opaque ledger snapshots keyed by wallet identifier.
// The ledger layer owns the encoding; this layer only moves bytes.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is a Postgres-backed Storage. Each wallet's ledger snapshot lives
// in a single row, upserted whole on every save.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, metrics: m, logger: logger}
}

// Migrate creates the snapshot table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_snapshots (
			key        TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ledger_snapshots table: %w", err)
	}
	return nil
}

// Load returns the stored blob for key, or ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ledger_snapshots WHERE key = $1`, key,
	).Scan(&data)
	if s.metrics != nil {
		s.metrics.RecordStorageOp("load", time.Since(start).Seconds(), err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %q: %w", key, err)
	}
	return data, nil
}

// Save upserts the blob for key.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_snapshots (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, key, data)
	if s.metrics != nil {
		s.metrics.RecordStorageOp("save", time.Since(start).Seconds(), err)
	}
	if err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", key, err)
	}
	s.logger.DebugContext(ctx, "saved ledger snapshot", "key", key, "bytes", len(data))
	return nil
}

// Keys lists all stored snapshot keys. Used by CLI inspection tooling.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM ledger_snapshots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot keys: %w", err)
	}
	return keys, nil
}

// Delete removes the blob for key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_snapshots WHERE key = $1`, key)
	if s.metrics != nil {
		s.metrics.RecordStorageOp("delete", time.Since(start).Seconds(), err)
	}
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %q: %w", key, err)
	}
	return nil
}
