package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the single writable connection to the embedded review store.
type DB struct {
	conn *sql.DB
}

// Open creates the parent directory if needed, opens the store, applies
// pragmas for WAL durability under a single writer, and runs migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Exactly one writable connection for the process lifetime: the
	// WriteCoordinator is the only thing allowed to serialize writes, and a
	// second connection would let the driver interleave them itself.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := RunMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// SQL exposes the underlying connection for repository and coordinator use.
func (d *DB) SQL() *sql.DB {
	return d.conn
}

// Close checkpoints and truncates the WAL before closing the connection, so
// a subsequent startup never observes stale WAL or shm files.
func (d *DB) Close() error {
	if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.conn.Close()
		return fmt.Errorf("checkpoint on close: %w", err)
	}
	return d.conn.Close()
}
