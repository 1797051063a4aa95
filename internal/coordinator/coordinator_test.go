package coordinator

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "coord.sqlite3"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, value INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO counters (id, value) VALUES (1, 0)`)
	require.NoError(t, err)
	return db
}

func TestWriteCommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	c := New(db)

	err := c.Write(context.Background(), func(q Queryer) error {
		_, err := q.ExecContext(context.Background(), "UPDATE counters SET value = value + 1 WHERE id = 1")
		return err
	})
	require.NoError(t, err)

	var value int
	require.NoError(t, db.QueryRow("SELECT value FROM counters WHERE id = 1").Scan(&value))
	assert.Equal(t, 1, value)
}

func TestWriteRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	c := New(db)

	sentinel := assert.AnError
	err := c.Write(context.Background(), func(q Queryer) error {
		_, execErr := q.ExecContext(context.Background(), "UPDATE counters SET value = value + 1 WHERE id = 1")
		require.NoError(t, execErr)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var value int
	require.NoError(t, db.QueryRow("SELECT value FROM counters WHERE id = 1").Scan(&value))
	assert.Equal(t, 0, value)
}

func TestWriteSerializesConcurrentCallers(t *testing.T) {
	db := newTestDB(t)
	c := New(db)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := c.Write(context.Background(), func(q Queryer) error {
				_, err := q.ExecContext(context.Background(), "UPDATE counters SET value = value + 1 WHERE id = 1")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var value int
	require.NoError(t, db.QueryRow("SELECT value FROM counters WHERE id = 1").Scan(&value))
	assert.Equal(t, n, value)
}
