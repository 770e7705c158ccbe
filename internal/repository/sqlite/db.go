// Package sqlite is the embedded backend: the same repository ports as
// the postgres package, served from a single local file (or :memory:).
// Intended for single-binary deployments and tests; the engine depends
// only on the domain ports and cannot tell the backends apart.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'unknown',
	tags       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS node_groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- node_id deliberately carries no foreign key: groups may reference
-- nodes that were deleted since, and resolution drops those.
CREATE TABLE IF NOT EXISTS node_group_members (
	group_id INTEGER NOT NULL REFERENCES node_groups(id) ON DELETE CASCADE,
	node_id  INTEGER NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (group_id, position)
);

CREATE TABLE IF NOT EXISTS apis (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	uri        TEXT NOT NULL,
	method     TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_parameters (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	api_id      INTEGER NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	placement   TEXT NOT NULL DEFAULT 'query',
	required    INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS synthetic_tests (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	target_type  TEXT NOT NULL,
	target_id    INTEGER NOT NULL,
	api_id       INTEGER NOT NULL,
	param_values TEXT NOT NULL DEFAULT '{}',
	interval_sec INTEGER NOT NULL DEFAULT 60,
	threshold_ms INTEGER NOT NULL DEFAULT 1000,
	tags         TEXT NOT NULL DEFAULT '',
	enabled      INTEGER NOT NULL DEFAULT 1,
	next_run     TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id          INTEGER NOT NULL REFERENCES synthetic_tests(id) ON DELETE CASCADE,
	node_id          INTEGER NOT NULL,
	status_code      INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	response_time_ms INTEGER NOT NULL,
	executed_at      TEXT NOT NULL,
	input            TEXT NOT NULL DEFAULT '',
	output           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_test_time ON history(test_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_time ON history(executed_at);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
`

func New(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
