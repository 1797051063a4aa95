package broker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsd-project/review-broker/internal/store"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	ctx := context.Background()
	sdb, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { sdb.Close() })
	return New(sdb, "") // empty workTree disables dry-run apply for tests
}

func createTestReview(t *testing.T, b *Broker, opts map[string]any) string {
	t.Helper()
	base := map[string]any{
		"intent":     "Refactor logger",
		"agent_type": "gsd-executor",
		"agent_role": "proposer",
		"phase":      "4",
		"category":   "code_change",
	}
	for k, v := range opts {
		base[k] = v
	}
	result, err := NewToolset(b).Execute(context.Background(), "create_review", base)
	require.NoError(t, err)
	m := result.(map[string]any)
	return m["review_id"].(string)
}

func TestHappyPathApproval(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()

	reviewID := createTestReview(t, b, nil)

	listed, err := ts.Execute(ctx, "list_reviews", map[string]any{"status": "pending"})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.(map[string]any)["count"])

	claimed, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-a"})
	require.NoError(t, err)
	claimMap := claimed.(map[string]any)
	assert.Equal(t, store.StatusClaimed, claimMap["status"])
	assert.Equal(t, 1, claimMap["claim_generation"])

	_, err = ts.Execute(ctx, "submit_verdict", map[string]any{
		"review_id": reviewID, "verdict": "approved", "claim_generation": 1,
	})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "close_review", map[string]any{"review_id": reviewID})
	require.NoError(t, err)

	status, err := ts.Execute(ctx, "get_review_status", map[string]any{"review_id": reviewID})
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, status.(map[string]any)["status"])

	timeline, err := ts.Execute(ctx, "get_review_timeline", map[string]any{"review_id": reviewID})
	require.NoError(t, err)
	events := timeline.(map[string]any)["events"].([]map[string]any)
	require.Len(t, events, 4)
	assert.Equal(t, store.EventReviewCreated, events[0]["event_type"])
	assert.Equal(t, store.EventClaimed, events[1]["event_type"])
	assert.Equal(t, store.EventVerdictSubmitted, events[2]["event_type"])
	assert.Equal(t, store.EventClosed, events[3]["event_type"])
}

func TestTurnAlternationEnforced(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()

	reviewID := createTestReview(t, b, nil)
	_, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-a"})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "add_message", map[string]any{"review_id": reviewID, "sender_role": "reviewer", "body": "q1"})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "add_message", map[string]any{"review_id": reviewID, "sender_role": "reviewer", "body": "q2"})
	require.Error(t, err)
	brokerErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindTurnViolation, brokerErr.Kind)

	_, err = ts.Execute(ctx, "add_message", map[string]any{"review_id": reviewID, "sender_role": "proposer", "body": "a1"})
	require.NoError(t, err)
}

func TestRevisionFlowIncrementsRound(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()

	reviewID := createTestReview(t, b, nil)
	_, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-a"})
	require.NoError(t, err)
	_, err = ts.Execute(ctx, "submit_verdict", map[string]any{
		"review_id": reviewID, "verdict": "changes_requested", "notes": "needs work", "claim_generation": 1,
	})
	require.NoError(t, err)

	result, err := ts.Execute(ctx, "create_review", map[string]any{
		"review_id": reviewID, "intent": "v2", "agent_type": "gsd-executor", "agent_role": "proposer", "phase": "4",
	})
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, store.StatusPending, m["status"])
	assert.Equal(t, 2, m["current_round"])

	claimed, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.(map[string]any)["claim_generation"])
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()
	reviewID := createTestReview(t, b, nil)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		reviewer := fmt.Sprintf("rev-%d", i)
		go func() {
			_, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": reviewer})
			results <- err
		}()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		if <-results == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestCounterPatchAccept(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()
	reviewID := createTestReview(t, b, nil)

	_, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-a"})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "submit_verdict", map[string]any{
		"review_id": reviewID, "verdict": "changes_requested", "notes": "prefer X",
		"counter_patch": "diff --git a/x.go b/x.go\n--- a/x.go\n+++ b/x.go\n@@ -1,1 +1,1 @@\n-a\n+b\n",
		"claim_generation": 1,
	})
	require.NoError(t, err)

	proposal, err := ts.Execute(ctx, "get_proposal", map[string]any{"review_id": reviewID})
	require.NoError(t, err)
	assert.Equal(t, store.CounterPatchPending, proposal.(map[string]any)["counter_patch_status"])

	_, err = ts.Execute(ctx, "accept_counter_patch", map[string]any{"review_id": reviewID})
	require.NoError(t, err)

	proposal, err = ts.Execute(ctx, "get_proposal", map[string]any{"review_id": reviewID})
	require.NoError(t, err)
	pm := proposal.(map[string]any)
	assert.Equal(t, store.CounterPatchAccepted, pm["counter_patch_status"])
	assert.Contains(t, pm["diff"].(string), "x.go")
}

func TestGetDiscussionFlagsMalformedMetadata(t *testing.T) {
	b := newTestBroker(t)
	ts := NewToolset(b)
	ctx := context.Background()
	reviewID := createTestReview(t, b, nil)

	_, err := ts.Execute(ctx, "claim_review", map[string]any{"review_id": reviewID, "reviewer_id": "rev-a"})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "add_message", map[string]any{
		"review_id": reviewID, "sender_role": "reviewer", "body": "q1", "metadata": "{not valid json",
	})
	require.NoError(t, err)
	_, err = ts.Execute(ctx, "add_message", map[string]any{
		"review_id": reviewID, "sender_role": "proposer", "body": "a1",
	})
	require.NoError(t, err)

	discussion, err := ts.Execute(ctx, "get_discussion", map[string]any{"review_id": reviewID})
	require.NoError(t, err)
	msgs := discussion.(map[string]any)["messages"].([]map[string]any)
	require.Len(t, msgs, 2)

	assert.Equal(t, true, msgs[0]["metadata_warning"])
	assert.Nil(t, msgs[0]["metadata"])
	assert.NotContains(t, msgs[1], "metadata_warning")
}
