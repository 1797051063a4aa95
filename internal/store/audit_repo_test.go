package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(reviewID string, eventType EventType, at time.Time, metadata string) *AuditEvent {
	return &AuditEvent{ReviewID: reviewID, EventType: eventType, Metadata: metadata, CreatedAt: at}
}

func TestComputeStatsPairsVerdictAsStateBoundary(t *testing.T) {
	repo := NewAuditRepo()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reviews := []*Review{{ID: "r1", Status: StatusClosed, Category: CategoryCodeChange}}
	events := []*AuditEvent{
		ev("r1", EventReviewCreated, t0, ""),
		ev("r1", EventClaimed, t0.Add(1*time.Minute), ""),
		ev("r1", EventVerdictSubmitted, t0.Add(3*time.Minute), `{"verdict":"approved","has_counter_patch":false}`),
		ev("r1", EventClosed, t0.Add(5*time.Minute), ""),
	}

	stats, err := repo.ComputeStats(nil, nil, reviews, events)
	require.NoError(t, err)

	assert.Equal(t, 1*time.Minute, stats.AvgTimeInState[StatusPending])
	assert.Equal(t, 2*time.Minute, stats.AvgTimeInState[StatusClaimed])
	assert.Equal(t, 2*time.Minute, stats.AvgTimeInState[StatusApproved])
	assert.Equal(t, 3*time.Minute, stats.AvgTimeToVerdict)
	assert.Equal(t, 1.0, stats.ApprovalRate)
}

func TestComputeStatsOnlyCountsFirstVerdictDeltaPerCycle(t *testing.T) {
	repo := NewAuditRepo()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reviews := []*Review{{ID: "r1", Status: StatusChangesRequested}}
	events := []*AuditEvent{
		ev("r1", EventReviewCreated, t0, ""),
		ev("r1", EventClaimed, t0.Add(1*time.Minute), ""),
		ev("r1", EventVerdictSubmitted, t0.Add(2*time.Minute), `{"verdict":"comment"}`),
		ev("r1", EventVerdictSubmitted, t0.Add(4*time.Minute), `{"verdict":"comment"}`),
		ev("r1", EventVerdictSubmitted, t0.Add(10*time.Minute), `{"verdict":"changes_requested"}`),
	}

	stats, err := repo.ComputeStats(nil, nil, reviews, events)
	require.NoError(t, err)

	require.Len(t, []time.Duration{stats.AvgTimeToVerdict}, 1)
	assert.Equal(t, 2*time.Minute, stats.AvgTimeToVerdict)
	assert.InDelta(t, 0.0, stats.ApprovalRate, 1e-9)
}

func TestComputeStatsAutoRejectedMovesToChangesRequested(t *testing.T) {
	repo := NewAuditRepo()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reviews := []*Review{{ID: "r1", Status: StatusChangesRequested}}
	events := []*AuditEvent{
		ev("r1", EventReviewCreated, t0, ""),
		ev("r1", EventAutoRejected, t0.Add(30*time.Second), `{"reason":"patch does not apply"}`),
	}

	stats, err := repo.ComputeStats(nil, nil, reviews, events)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, stats.AvgTimeInState[StatusPending])
	assert.Empty(t, stats.AvgTimeInState[StatusChangesRequested])
}

func TestComputeStatsCommentVerdictOnlyTransitionsFromClaimed(t *testing.T) {
	repo := NewAuditRepo()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reviews := []*Review{{ID: "r1", Status: StatusInReview}}
	events := []*AuditEvent{
		ev("r1", EventReviewCreated, t0, ""),
		ev("r1", EventClaimed, t0.Add(1*time.Minute), ""),
		ev("r1", EventVerdictSubmitted, t0.Add(2*time.Minute), `{"verdict":"comment"}`),
		ev("r1", EventVerdictSubmitted, t0.Add(6*time.Minute), `{"verdict":"comment"}`),
	}

	stats, err := repo.ComputeStats(nil, nil, reviews, events)
	require.NoError(t, err)

	// The first comment moves claimed -> in_review; the second comment is a
	// status no-op and must not split in_review's duration.
	assert.Equal(t, 1*time.Minute, stats.AvgTimeInState[StatusClaimed])
	assert.Empty(t, stats.AvgTimeInState[StatusInReview])
}

func TestVerdictFromMetadataToleratesMalformedJSON(t *testing.T) {
	assert.Equal(t, "", verdictFromMetadata(""))
	assert.Equal(t, "", verdictFromMetadata("not json"))
	assert.Equal(t, "approved", verdictFromMetadata(`{"verdict":"approved"}`))
}
