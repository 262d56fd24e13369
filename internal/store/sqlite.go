package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite. The pool is limited to a single
// connection so the database has exactly one writer; transactions start with
// BEGIN IMMEDIATE.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params + "&_pragma=journal_mode(WAL)"
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	provider_project_id TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	platform TEXT NOT NULL,
	version INTEGER NOT NULL,
	profile TEXT NOT NULL,
	status TEXT NOT NULL,
	external_build_id TEXT UNIQUE,
	artifact_ref TEXT,
	logs_ref TEXT,
	error_summary TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_builds_project ON builds(project_id, platform);
CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	runtime_version TEXT,
	branch_ref TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS ota_updates (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	external_update_id TEXT NOT NULL,
	group_id TEXT NOT NULL,
	manifest_url TEXT NOT NULL,
	runtime_version TEXT NOT NULL,
	platform TEXT NOT NULL,
	message TEXT NOT NULL,
	change_type TEXT NOT NULL,
	status TEXT NOT NULL,
	rollout_percent INTEGER NOT NULL,
	download_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	can_rollback INTEGER NOT NULL DEFAULT 1,
	rolled_back_to TEXT,
	published_at INTEGER NOT NULL,
	UNIQUE(channel_id, version)
);
CREATE INDEX IF NOT EXISTS idx_updates_channel_status ON ota_updates(channel_id, status);

CREATE TABLE IF NOT EXISTS update_events (
	id TEXT PRIMARY KEY,
	update_id TEXT NOT NULL REFERENCES ota_updates(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	platform TEXT NOT NULL,
	app_version TEXT NOT NULL,
	device_id TEXT,
	duration_ms INTEGER,
	error TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_update ON update_events(update_id, platform, app_version, created_at);

CREATE TABLE IF NOT EXISTS update_metrics (
	update_id TEXT NOT NULL REFERENCES ota_updates(id) ON DELETE CASCADE,
	platform TEXT NOT NULL,
	app_version TEXT NOT NULL,
	date TEXT NOT NULL,
	downloads INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	rollback_count INTEGER NOT NULL DEFAULT 0,
	avg_download_ms REAL NOT NULL DEFAULT 0,
	avg_apply_ms REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (update_id, platform, app_version, date)
);
`

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in an immediate transaction, committing on nil error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError("commit transaction", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
