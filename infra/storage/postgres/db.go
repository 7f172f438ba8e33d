// Package postgres persists tickets and analytics rows with pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool the repositories use.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB owns the connection pool. A nil *DB means persistence is disabled.
type DB struct {
	q    Querier
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{q: pool, pool: pool}, nil
}

// NewDB wraps an existing querier (a pool, a transaction, or a test double).
func NewDB(q Querier) *DB {
	return &DB{q: q}
}

func (db *DB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS support_tickets (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	sender_id       TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL,
	initial_message TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS support_message_log (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	is_system       BOOLEAN NOT NULL,
	conversation_id TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	sender_id       TEXT NOT NULL DEFAULT '',
	event_id        TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	meta            JSONB,
	occurred_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS support_message_log_conversation_idx
	ON support_message_log (conversation_id, occurred_at);
`

// Migrate creates the tables when they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
