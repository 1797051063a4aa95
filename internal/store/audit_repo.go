package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditRepo appends audit events and derives the stats and timeline views
// that are the sole source of truth for those reads:
// the current review row is a moving target, but the log is not.
type AuditRepo struct{}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

// Append inserts one audit event and returns its assigned id.
func (a *AuditRepo) Append(ctx context.Context, q queryer, reviewID string, eventType EventType, actor, metadata string) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO audit_events (review_id, event_type, actor, metadata, created_at)
		VALUES (?,?,?,?,?)`, reviewID, eventType, nullable(actor), nullable(metadata), formatTimestamp(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("append audit event: %w", err)
	}
	return res.LastInsertId()
}

// Timeline returns every event for a single review in chronological order.
func (a *AuditRepo) Timeline(ctx context.Context, q queryer, reviewID string) ([]*AuditEvent, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, review_id, event_type, actor, metadata, created_at
		FROM audit_events WHERE review_id = ? ORDER BY id ASC`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AllEvents returns every event across the store, optionally scoped to one
// review, in chronological order. Used both by get_audit_log and by the
// stats aggregation below.
func (a *AuditRepo) AllEvents(ctx context.Context, q queryer, reviewID string) ([]*AuditEvent, error) {
	query := `SELECT id, review_id, event_type, actor, metadata, created_at FROM audit_events`
	var args []any
	if reviewID != "" {
		query += ` WHERE review_id = ?`
		args = append(args, reviewID)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("all events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*AuditEvent, error) {
	var out []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actor, metadata nullStringWrapper
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ReviewID, &e.EventType, &actor, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Actor = actor.value
		e.Metadata = metadata.value
		t, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse audit created_at: %w", err)
		}
		e.CreatedAt = t
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Stats summarizes the entire lifetime of the store, or one project.
type Stats struct {
	CountsByStatus   map[Status]int
	CountsByCategory map[Category]int
	ApprovalRate     float64
	AvgTimeToVerdict time.Duration
	AvgTimeInState   map[Status]time.Duration
}

// ComputeStats derives aggregate metrics entirely from the audit log and the
// current review table's status/category breakdown, per the rule that
// status counts come from current rows but timing and rates come from the
// append-only log.
func (a *AuditRepo) ComputeStats(ctx context.Context, q queryer, reviews []*Review, events []*AuditEvent) (*Stats, error) {
	s := &Stats{
		CountsByStatus:   map[Status]int{},
		CountsByCategory: map[Category]int{},
		AvgTimeInState:   map[Status]time.Duration{},
	}
	for _, r := range reviews {
		s.CountsByStatus[r.Status]++
		if r.Category != "" {
			s.CountsByCategory[r.Category]++
		}
	}

	byReview := map[string][]*AuditEvent{}
	for _, e := range events {
		byReview[e.ReviewID] = append(byReview[e.ReviewID], e)
	}

	var approved, totalVerdicts int
	var verdictDeltas []time.Duration
	stateDeltas := map[Status][]time.Duration{}

	for _, evs := range byReview {
		var lastCreateOrRevise time.Time
		var lastTransitionAt time.Time
		var lastState Status
		verdictCountedThisCycle := false

		advance := func(eventAt time.Time, next Status) {
			if !lastTransitionAt.IsZero() && next != lastState {
				stateDeltas[lastState] = append(stateDeltas[lastState], eventAt.Sub(lastTransitionAt))
				lastTransitionAt = eventAt
			} else if lastTransitionAt.IsZero() {
				lastTransitionAt = eventAt
			}
			lastState = next
		}

		for _, e := range evs {
			switch e.EventType {
			case EventReviewCreated, EventRevisionCreated:
				lastCreateOrRevise = e.CreatedAt
				lastTransitionAt = e.CreatedAt
				lastState = StatusPending
				verdictCountedThisCycle = false
			case EventClaimed:
				advance(e.CreatedAt, StatusClaimed)
			case EventVerdictSubmitted:
				verdict := verdictFromMetadata(e.Metadata)
				totalVerdicts++
				if verdict == "approved" {
					approved++
				}
				if !verdictCountedThisCycle && !lastCreateOrRevise.IsZero() {
					verdictDeltas = append(verdictDeltas, e.CreatedAt.Sub(lastCreateOrRevise))
					verdictCountedThisCycle = true
				}
				advance(e.CreatedAt, verdictTargetState(verdict, lastState))
			case EventAutoRejected:
				advance(e.CreatedAt, StatusChangesRequested)
			case EventClosed:
				advance(e.CreatedAt, StatusClosed)
			}
		}
	}

	if totalVerdicts > 0 {
		s.ApprovalRate = float64(approved) / float64(totalVerdicts)
	}
	s.AvgTimeToVerdict = average(verdictDeltas)
	for state, deltas := range stateDeltas {
		s.AvgTimeInState[state] = average(deltas)
	}

	return s, nil
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// verdictFromMetadata reads the "verdict" field broker.submitVerdict writes
// onto a verdict_submitted event's metadata. An empty string means the
// metadata was absent or malformed.
func verdictFromMetadata(metadataJSON string) string {
	if !strings.Contains(metadataJSON, `"verdict"`) {
		return ""
	}
	var decoded struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(metadataJSON), &decoded); err != nil {
		return ""
	}
	return decoded.Verdict
}

// verdictTargetState derives the status a verdict_submitted event moved a
// review to: approved and changes_requested map directly, and a comment
// verdict only leaves claimed for in_review, matching
// broker.submitVerdict's transition rule.
func verdictTargetState(verdict string, from Status) Status {
	switch verdict {
	case "approved":
		return StatusApproved
	case "changes_requested":
		return StatusChangesRequested
	case "comment":
		if from == StatusClaimed {
			return StatusInReview
		}
		return from
	default:
		return from
	}
}

// ActivityEntry is one row of the dashboard's recent-activity feed.
type ActivityEntry struct {
	Review         *Review
	LastMessage    *Message
	MessageCount   int
}
