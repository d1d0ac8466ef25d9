// Package db provides the SQLite implementation of the persistent local store.
//
// The offline components persist three kinds of blobs: the mutation queue,
// the per-kind local snapshots and the temporary identity alias table. All of
// them go through the kv.Store contract; this package backs it with an
// embedded SQLite database (ncruces/go-sqlite3, no cgo) in WAL mode.
//
// Architecture:
//   - Database file: <data_dir>/garage.db
//   - WAL mode: readers (status, CLI) never block the sync daemon
//   - Schema: a single kv table keyed by blob name
//
// Every Set is a single autocommit statement, so a value is durable when Set
// returns.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/motogarage/garage/internal/offline/kv"
)

// DB wraps the SQLite connection and implements kv.Store.
type DB struct {
	conn *sql.DB
	path string
}

// Ensure DB implements kv.Store at compile time.
var _ kv.Store = (*DB)(nil)

// Open creates a new database connection at the specified path and
// initializes the schema.
//
// Close flushes the WAL into the main file; skip it and the next Open
// replays the log instead.
//
// Example:
//
//	store, err := db.Open(".garage/garage.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single client process; a small pool is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection. Later calls are
// no-ops.
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

// InitSchema creates the kv table if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get implements kv.Store.Get.
func (db *DB) Get(key string) ([]byte, bool, error) {
	return db.GetContext(context.Background(), key)
}

// GetContext reads one blob with context support.
func (db *DB) GetContext(ctx context.Context, key string) ([]byte, bool, error) {
	if db.conn == nil {
		return nil, false, kv.ErrClosed
	}

	var value []byte
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements kv.Store.Set.
func (db *DB) Set(key string, value []byte) error {
	return db.SetContext(context.Background(), key, value)
}

// SetContext writes one blob with context support.
func (db *DB) SetContext(ctx context.Context, key string, value []byte) error {
	if db.conn == nil {
		return kv.ErrClosed
	}
	if value == nil {
		value = []byte{}
	}

	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// KeyInfo describes one stored blob.
type KeyInfo struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}

// ListKeys returns every stored key ordered by name.
func (db *DB) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	if db.conn == nil {
		return nil, kv.ErrClosed
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT key, length(value), updated_at FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var info KeyInfo
		var updatedAt string
		if err := rows.Scan(&info.Key, &info.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			info.UpdatedAt = t
		}
		keys = append(keys, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}
