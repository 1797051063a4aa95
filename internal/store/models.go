// Package store implements the embedded relational persistence layer for
// the review broker: reviews, discussion messages, and the append-only
// audit log.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of review lifecycle states.
type Status string

const (
	StatusPending           Status = "pending"
	StatusClaimed           Status = "claimed"
	StatusInReview          Status = "in_review"
	StatusApproved          Status = "approved"
	StatusChangesRequested  Status = "changes_requested"
	StatusClosed            Status = "closed"
)

// Category drives reviewer routing and filtering.
type Category string

const (
	CategoryPlanReview  Category = "plan_review"
	CategoryCodeChange  Category = "code_change"
	CategoryVerification Category = "verification"
	CategoryHandoff     Category = "handoff"
)

// Priority is fixed for a review's entire lifetime once assigned at creation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// CounterPatchStatus tracks a reviewer-proposed alternative diff.
type CounterPatchStatus string

const (
	CounterPatchPending  CounterPatchStatus = "pending"
	CounterPatchAccepted CounterPatchStatus = "accepted"
	CounterPatchRejected CounterPatchStatus = "rejected"
)

// AgentRole identifies which side of the protocol a caller is acting as.
type AgentRole string

const (
	RoleProposer AgentRole = "proposer"
	RoleReviewer AgentRole = "reviewer"
)

// EventType enumerates the audit log's event kinds.
type EventType string

const (
	EventReviewCreated         EventType = "review_created"
	EventRevisionCreated       EventType = "revision_created"
	EventClaimed               EventType = "claimed"
	EventAutoRejected          EventType = "auto_rejected"
	EventVerdictSubmitted      EventType = "verdict_submitted"
	EventClosed                EventType = "closed"
	EventCounterPatchSubmitted EventType = "counter_patch_submitted"
	EventCounterPatchAccepted  EventType = "counter_patch_accepted"
	EventCounterPatchRejected  EventType = "counter_patch_rejected"
	EventMessageAdded          EventType = "message_added"
)

// Review is the primary entity: a proposal under multi-round discussion.
type Review struct {
	ID                        string
	Status                    Status
	Intent                    string
	Description               string
	Diff                      string
	AffectedFiles             []string
	SkipDiffValidation        bool
	AgentType                 string
	AgentRole                 AgentRole
	Phase                     string
	Plan                      string
	Task                      string
	Project                   string
	Category                  Category
	Priority                  Priority
	CurrentRound              int
	ClaimedBy                 string
	ClaimGeneration           int
	VerdictReason             string
	CounterPatch              string
	CounterPatchAffectedFiles []string
	CounterPatchStatus        CounterPatchStatus
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Message is one turn in a review's discussion thread.
type Message struct {
	ID         string
	ReviewID   string
	SenderRole AgentRole
	Round      int
	Body       string
	Metadata   string
	Rank       int64
	CreatedAt  time.Time
}

// AuditEvent is one append-only record in the review's lifecycle history.
type AuditEvent struct {
	ID        int64
	ReviewID  string
	EventType EventType
	Actor     string
	Metadata  string
	CreatedAt time.Time
}

// NewID returns a UUID-shaped opaque identifier, as required by the wire
// protocol's review/message id contract.
func NewID() string {
	return uuid.NewString()
}

// nowUTC returns the current instant truncated to millisecond resolution,
// the precision the wire protocol and ordering guarantees require.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// RFC3339Milli is the ISO-8601-with-milliseconds layout used for every
// timestamp this package writes externally.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// formatTimestamp renders t as ISO-8601 with millisecond precision, UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(RFC3339Milli)
}

// ParseMetadataOrNil decodes an opaque JSON metadata blob, returning nil
// (never an error) on malformed input. The second return value is true only
// when raw was non-empty but failed to parse, so callers can distinguish
// "no metadata was recorded" from "metadata is corrupt" and surface a
// warning flag instead of raising on bad metadata.
func ParseMetadataOrNil(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, true
	}
	return v, false
}

// parseTimestamp parses the ISO-8601-with-milliseconds form written by
// formatTimestamp, falling back to RFC3339 for tolerance of hand-written
// fixtures in tests.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(RFC3339Milli, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func encodeStringSlice(ss []string) (string, error) {
	if ss == nil {
		return "", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStringSlice(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, err
	}
	return ss, nil
}
