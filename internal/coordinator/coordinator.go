// Package coordinator serializes every write transaction against the
// review store behind a single process-wide mutex, so concurrent RPCs can
// never race past the state machine's checks on the same row.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Coordinator wraps the store's one writable connection with a mutex and a
// BEGIN IMMEDIATE transaction helper.
type Coordinator struct {
	mu sync.Mutex
	db *sql.DB
}

func New(db *sql.DB) *Coordinator {
	return &Coordinator{db: db}
}

// Queryer is the subset of *sql.Conn that repositories need inside a write
// transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Write acquires the write lock, issues BEGIN IMMEDIATE on a dedicated
// connection, runs fn, and commits or rolls back. fn's error, if any, is
// returned unwrapped so callers can classify it with errors.As against the
// broker's error taxonomy. The lock is held for the full duration of fn;
// callers must not perform unrelated blocking I/O inside it.
func (c *Coordinator) Write(ctx context.Context, fn func(q Queryer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	rollback := func() {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
	}

	if err := fn(conn); err != nil {
		rollback()
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback()
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
