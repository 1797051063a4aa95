package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gsd-project/review-broker/internal/coordinator"
	"github.com/gsd-project/review-broker/internal/notifybus"
	"github.com/gsd-project/review-broker/internal/store"
)

// waitBudget is the long-poll ceiling for every wait-capable verb. It is
// chosen to sit comfortably inside a ~30s RPC client timeout.
const waitBudget = 25 * time.Second

// Broker orchestrates the store, state machine, diff validator, priority
// inferrer, write coordinator, and notification bus behind the RPC surface
// in Toolset. It holds no state of its own beyond its collaborators.
type Broker struct {
	db       *sql.DB
	reviews  *store.ReviewRepo
	messages *store.MessageRepo
	audit    *store.AuditRepo
	coord    *coordinator.Coordinator
	notify   *notifybus.Bus
	workTree string
}

// New wires a Broker against an open store. workTree is the repository
// root used for diff dry-run apply; an empty value disables dry-run apply
// entirely (useful for tests that only exercise state transitions).
func New(sdb *store.DB, workTree string) *Broker {
	return &Broker{
		db:       sdb.SQL(),
		reviews:  store.NewReviewRepo(sdb),
		messages: store.NewMessageRepo(),
		audit:    store.NewAuditRepo(),
		coord:    coordinator.New(sdb.SQL()),
		notify:   notifybus.New(),
		workTree: workTree,
	}
}

func (b *Broker) definitions() []Tool {
	return []Tool{
		b.createReviewTool(),
		b.listReviewsTool(),
		b.getReviewStatusTool(),
		b.claimReviewTool(),
		b.submitVerdictTool(),
		b.acceptCounterPatchTool(),
		b.rejectCounterPatchTool(),
		b.closeReviewTool(),
		b.addMessageTool(),
		b.getDiscussionTool(),
		b.getProposalTool(),
		b.getActivityFeedTool(),
		b.getAuditLogTool(),
		b.getReviewStatsTool(),
		b.getReviewTimelineTool(),
	}
}

func (b *Broker) waitTimer() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		time.Sleep(waitBudget)
		close(ch)
	}()
	return ch
}

func reviewView(r *store.Review) map[string]any {
	return map[string]any{
		"id":                            r.ID,
		"status":                        r.Status,
		"intent":                        r.Intent,
		"description":                   r.Description,
		"diff":                          r.Diff,
		"affected_files":                r.AffectedFiles,
		"skip_diff_validation":          r.SkipDiffValidation,
		"agent_type":                    r.AgentType,
		"agent_role":                    r.AgentRole,
		"phase":                         r.Phase,
		"plan":                          r.Plan,
		"task":                          r.Task,
		"project":                       r.Project,
		"category":                      r.Category,
		"priority":                      r.Priority,
		"current_round":                 r.CurrentRound,
		"claimed_by":                    r.ClaimedBy,
		"claim_generation":              r.ClaimGeneration,
		"verdict_reason":                r.VerdictReason,
		"counter_patch":                 r.CounterPatch,
		"counter_patch_affected_files":  r.CounterPatchAffectedFiles,
		"counter_patch_status":          r.CounterPatchStatus,
		"created_at":                    r.CreatedAt.Format(store.RFC3339Milli),
		"updated_at":                    r.UpdatedAt.Format(store.RFC3339Milli),
		"updated_at_relative":           humanize.Time(r.UpdatedAt),
	}
}

// appendEvent appends an audit event inside an in-flight write, encoding
// metadata as JSON when non-nil.
func appendEvent(ctx context.Context, audit *store.AuditRepo, q coordinator.Queryer, reviewID string, eventType store.EventType, actor string, metadata map[string]any) error {
	var metaJSON string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metaJSON = string(b)
	}
	_, err := audit.Append(ctx, q, reviewID, eventType, actor, metaJSON)
	return err
}
