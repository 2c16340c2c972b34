// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the stores use; pgxmock satisfies it in tests.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_tasks (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	method      TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	parent_url  TEXT        NOT NULL DEFAULT '',
	depth       INTEGER     NOT NULL,
	encoding    TEXT        NOT NULL DEFAULT '',
	create_time TIMESTAMPTZ NOT NULL,
	claimed_by  TEXT,
	claimed_at  TIMESTAMPTZ,
	UNIQUE (session_id, url)
);
CREATE INDEX IF NOT EXISTS crawl_tasks_pending_idx
	ON crawl_tasks (session_id, depth, create_time, id) WHERE claimed_by IS NULL;

CREATE TABLE IF NOT EXISTS access_results (
	id             BIGSERIAL PRIMARY KEY,
	session_id     TEXT        NOT NULL,
	url            TEXT        NOT NULL,
	parent_url     TEXT        NOT NULL DEFAULT '',
	method         TEXT        NOT NULL,
	status         TEXT        NOT NULL,
	http_status    INTEGER     NOT NULL DEFAULT 0,
	content_hash   TEXT        NOT NULL DEFAULT '',
	last_modified  TIMESTAMPTZ,
	mime_type      TEXT        NOT NULL DEFAULT '',
	content_length BIGINT      NOT NULL DEFAULT 0,
	fetch_time     TIMESTAMPTZ NOT NULL,
	execution_ms   BIGINT      NOT NULL DEFAULT 0,
	error          TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS access_results_lookup_idx
	ON access_results (session_id, url, id DESC);

CREATE TABLE IF NOT EXISTS crawl_sessions (
	id                  TEXT PRIMARY KEY,
	status              TEXT        NOT NULL,
	seeds               TEXT[]      NOT NULL,
	previous_session_id TEXT        NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ,
	error_message       TEXT        NOT NULL DEFAULT ''
);
`

// Migrate creates the tables the stores need if they do not exist.
func Migrate(ctx context.Context, p pool) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	ts := t.UTC()
	return &ts
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
