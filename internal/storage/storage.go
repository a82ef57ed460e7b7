// Package storage provides the persisted local state for inklet.
//
// The sync core keeps its durable state (pending queue, server mirror
// caches, last-synced timestamp) in a single namespaced key-value
// entry, and the version-history subsystem keeps full document
// snapshots. Both live in one embedded SQLite database opened in WAL
// mode for concurrent access from sibling inklet processes.
//
// The KV interface is deliberately tiny ({Get, Set, Remove}) so the
// sync core can run against the in-memory implementation in tests.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// KV is the minimal key-value surface the sync core depends on.
type KV interface {
	// Get returns the value for key, or ("", false) if absent.
	Get(key string) (string, bool, error)
	// Set stores the value for key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes the key. No error if absent.
	Remove(key string) error
}

// DB wraps the SQLite database holding inklet's local state.
type DB struct {
	conn *sql.DB
	path string
}

var _ KV = (*DB)(nil)

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If it doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
//
// Example:
//
//	db, err := storage.Open(filepath.Join(dataDir, "inklet.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the kv and versions tables if they don't exist.
// Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_doc ON versions(doc_id, saved_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Get implements KV.
func (db *DB) Get(key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements KV.
func (db *DB) Set(key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Remove implements KV. Idempotent.
func (db *DB) Remove(key string) error {
	if _, err := db.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
