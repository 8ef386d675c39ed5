package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// sqliteBusyTimeout is the time SQLite waits when the database is
// locked before returning SQLITE_BUSY.
const sqliteBusyTimeout = 10000 // milliseconds

// openSqlite opens the replica database and applies the configured
// pragmas.
func openSqlite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The connection is exclusively owned by one store instance; a pool
	// would hand pragmas and transactions to different connections.
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// applyPragmas configures the connection in a single batch statement.
// page_size must run before the database is first written; the
// autocheckpoint value keeps the WAL at or under ~2 MB
// (2048000 / 32768 pages).
func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA page_size = 32768;
		PRAGMA journal_mode = WAL;
		PRAGMA wal_autocheckpoint = 62;
		PRAGMA foreign_keys = ON;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}

	return nil
}

// createSchema creates the two record tables and the meta table. All
// statements are idempotent; reopening an existing database is a no-op.
func createSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rec_mirror (
			guid               TEXT PRIMARY KEY NOT NULL,
			record_data        TEXT NOT NULL,
			vector_clock       TEXT NOT NULL,
			last_writer_id     TEXT NOT NULL,
			server_modified_ms INTEGER NOT NULL DEFAULT 0,
			is_overridden      INTEGER NOT NULL DEFAULT 0,
			ttl                INTEGER,
			sortindex          INTEGER
		) WITHOUT ROWID`,
		`CREATE TABLE IF NOT EXISTS rec_local (
			guid              TEXT PRIMARY KEY NOT NULL,
			record_data       TEXT NOT NULL DEFAULT '{}',
			vector_clock      TEXT NOT NULL,
			last_writer_id    TEXT NOT NULL,
			local_modified_ms INTEGER NOT NULL DEFAULT 0,
			is_deleted        INTEGER NOT NULL DEFAULT 0,
			sync_status       INTEGER NOT NULL DEFAULT 0,
			schema_version    TEXT NOT NULL
		) WITHOUT ROWID`,
		`CREATE INDEX IF NOT EXISTS idx_local_sync_status
			ON rec_local(sync_status)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY NOT NULL,
			value NOT NULL
		) WITHOUT ROWID`,
	}

	for i, stmt := range statements {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}

	return nil
}

// Meta keys for bootstrap data.
const (
	metaChangeCounter = "CHANGE_COUNTER"
	metaClientID      = "CLIENT_ID"
	metaSchemaVersion = "SCHEMA_VERSION"
)

// metaGetString reads a string meta value. Missing keys return ok=false.
func metaGetString(ctx context.Context, tx *sql.Tx, key string) (string, bool, error) {
	var value string

	err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("meta get %s: %w", key, err)
	}

	return value, true, nil
}

// metaGetInt reads an integer meta value. Missing keys return ok=false.
func metaGetInt(ctx context.Context, tx *sql.Tx, key string) (int64, bool, error) {
	var value int64

	err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("meta get %s: %w", key, err)
	}

	return value, true, nil
}

// metaPut writes a meta value, replacing any existing one.
func metaPut(ctx context.Context, tx *sql.Tx, key string, value any) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("meta put %s: %w", key, err)
	}

	return nil
}
