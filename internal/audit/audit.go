// Package audit provides a PostgreSQL-backed audit trail for tool
// invocations. Every dispatched tool call can be recorded with its outcome
// and latency, giving operators a durable record to query after the fact.
//
// The store is optional: when no DSN is configured the server simply runs
// without an audit trail. [Migrate] is idempotent and runs automatically on
// [NewStore], so no external migration tooling is required.
//
// Usage:
//
//	store, err := audit.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Record(ctx, audit.Invocation{Tool: "web_search", Status: "ok", Duration: d})
//	recent, _ := store.Recent(ctx, 50)
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlInvocations = `
CREATE TABLE IF NOT EXISTS tool_invocations (
    id          UUID         PRIMARY KEY,
    tool        TEXT         NOT NULL,
    status      TEXT         NOT NULL,
    duration_ms BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tool_invocations_tool
    ON tool_invocations (tool);

CREATE INDEX IF NOT EXISTS idx_tool_invocations_created_at
    ON tool_invocations (created_at);
`

// Invocation is a single audited tool call.
type Invocation struct {
	// ID is assigned by [Store.Record]; leave zero when recording.
	ID uuid.UUID

	// Tool is the dispatched tool name, e.g. "web_search".
	Tool string

	// Status is the outcome label: "ok", "error", "timeout" or
	// "invalid_input".
	Status string

	// Duration is the wall-clock time the invocation took. Stored with
	// millisecond precision.
	Duration time.Duration

	// CreatedAt is assigned by the database on insert.
	CreatedAt time.Time
}

// Store is a PostgreSQL-backed audit trail. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure the audit table
// exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the audit table exists. It is idempotent
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and safe to call
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlInvocations); err != nil {
		return fmt.Errorf("audit migrate: %w", err)
	}
	return nil
}

// Record inserts one invocation into the audit trail. The ID and CreatedAt
// fields of inv are ignored; a fresh UUID is generated and the database
// assigns the timestamp.
func (s *Store) Record(ctx context.Context, inv Invocation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_invocations (id, tool, status, duration_ms) VALUES ($1, $2, $3, $4)`,
		uuid.New(), inv.Tool, inv.Status, inv.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("audit record: %w", err)
	}
	return nil
}

// Recent returns the most recent invocations, newest first, up to limit.
// A non-positive limit defaults to 100.
func (s *Store) Recent(ctx context.Context, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tool, status, duration_ms, created_at
		 FROM tool_invocations
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}

	invs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invocation, error) {
		var inv Invocation
		var durationMs int64
		if err := row.Scan(&inv.ID, &inv.Tool, &inv.Status, &durationMs, &inv.CreatedAt); err != nil {
			return Invocation{}, err
		}
		inv.Duration = time.Duration(durationMs) * time.Millisecond
		return inv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit recent: scan: %w", err)
	}
	return invs, nil
}

// Ping verifies the database connection is alive. It is suitable as a
// readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
