package store

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "core_tables",
		sql: `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	intent TEXT NOT NULL,
	description TEXT,
	diff TEXT,
	affected_files TEXT,
	skip_diff_validation INTEGER NOT NULL DEFAULT 0,
	agent_type TEXT,
	agent_role TEXT,
	phase TEXT,
	plan TEXT,
	task TEXT,
	project TEXT,
	category TEXT,
	priority TEXT NOT NULL,
	current_round INTEGER NOT NULL DEFAULT 1,
	claimed_by TEXT,
	claim_generation INTEGER NOT NULL DEFAULT 0,
	verdict_reason TEXT,
	counter_patch TEXT,
	counter_patch_affected_files TEXT,
	counter_patch_status TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_reviews_category ON reviews(category);
CREATE INDEX IF NOT EXISTS idx_reviews_project ON reviews(project);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	review_id TEXT NOT NULL REFERENCES reviews(id),
	sender_role TEXT NOT NULL,
	round INTEGER NOT NULL,
	body TEXT NOT NULL,
	metadata TEXT,
	rank INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_review_rank ON messages(review_id, rank);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	review_id TEXT NOT NULL REFERENCES reviews(id),
	event_type TEXT NOT NULL,
	actor TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_review_created ON audit_events(review_id, created_at);

CREATE TABLE IF NOT EXISTS rank_counter (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next_rank INTEGER NOT NULL
);
INSERT OR IGNORE INTO rank_counter (id, next_rank) VALUES (1, 1);
`,
	},
}

// RunMigrations applies every migration whose version exceeds the store's
// current schema_version, inside one transaction, and records the final
// version. Re-running against an already-migrated store is a no-op.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create _meta: %w", err)
	}

	currentVersion := 0
	row := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`)
	var raw string
	if err := row.Scan(&raw); err == nil {
		fmt.Sscanf(raw, "%d", &currentVersion)
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}

	applied := currentVersion
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		applied = m.version
	}

	if applied != currentVersion {
		if _, err := tx.ExecContext(ctx, `INSERT INTO _meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", applied)); err != nil {
			return fmt.Errorf("record schema_version: %w", err)
		}
	}

	return tx.Commit()
}
