package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MessageRepo reads and writes discussion entries.
type MessageRepo struct{}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{}
}

// nextRank allocates the next strictly-increasing insertion-order rank.
// Ordering of messages comes from this counter, not from created_at, which
// has coarser resolution and can tie within a transaction; audit events are
// ordered by their autoincrement id instead.
func nextRank(ctx context.Context, q queryer) (int64, error) {
	row := q.QueryRowContext(ctx, `UPDATE rank_counter SET next_rank = next_rank + 1 WHERE id = 1 RETURNING next_rank - 1`)
	var rank int64
	if err := row.Scan(&rank); err != nil {
		return 0, fmt.Errorf("allocate rank: %w", err)
	}
	return rank, nil
}

// LastSenderRole returns the sender_role of the most recently inserted
// message in a review, by rank, or "" if the review has no messages yet.
func (m *MessageRepo) LastSenderRole(ctx context.Context, q queryer, reviewID string) (AgentRole, error) {
	row := q.QueryRowContext(ctx, `SELECT sender_role FROM messages WHERE review_id = ? ORDER BY rank DESC LIMIT 1`, reviewID)
	var role string
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("last sender role: %w", err)
	}
	return AgentRole(role), nil
}

// Insert appends a message and assigns it the next insertion-order rank.
func (m *MessageRepo) Insert(ctx context.Context, q queryer, msg *Message) error {
	rank, err := nextRank(ctx, q)
	if err != nil {
		return err
	}
	msg.Rank = rank

	_, err = q.ExecContext(ctx, `INSERT INTO messages (id, review_id, sender_role, round, body, metadata, rank, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		msg.ID, msg.ReviewID, msg.SenderRole, msg.Round, msg.Body, nullable(msg.Metadata), msg.Rank,
		formatTimestamp(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByReview returns every message for a review in insertion order,
// optionally filtered to a single round.
func (m *MessageRepo) ListByReview(ctx context.Context, q queryer, reviewID string, round int) ([]*Message, error) {
	query := `SELECT id, review_id, sender_role, round, body, metadata, rank, created_at FROM messages WHERE review_id = ?`
	args := []any{reviewID}
	if round > 0 {
		query += ` AND round = ?`
		args = append(args, round)
	}
	query += ` ORDER BY rank ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		var metadata nullStringWrapper
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ReviewID, &msg.SenderRole, &msg.Round, &msg.Body, &metadata, &msg.Rank, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Metadata = metadata.value
		if msg.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("parse message created_at: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// nullStringWrapper scans a nullable TEXT column into a plain string,
// leaving it empty when the column is NULL.
type nullStringWrapper struct {
	value string
}

func (n *nullStringWrapper) Scan(src any) error {
	if src == nil {
		n.value = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		n.value = v
	case []byte:
		n.value = string(v)
	default:
		return fmt.Errorf("unsupported scan type %T", src)
	}
	return nil
}
