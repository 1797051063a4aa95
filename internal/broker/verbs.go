package broker

import (
	"context"
	"time"

	"github.com/gsd-project/review-broker/internal/coordinator"
	"github.com/gsd-project/review-broker/internal/diffvalidator"
	"github.com/gsd-project/review-broker/internal/priority"
	"github.com/gsd-project/review-broker/internal/statemachine"
	"github.com/gsd-project/review-broker/internal/store"
)

func (b *Broker) createReviewTool() Tool {
	return Tool{
		Name:        "create_review",
		Description: "Create a new review, or submit a revision against an existing one in changes_requested.",
		Parameters: map[string]Param{
			"intent":               {Type: "string", Required: true},
			"agent_type":           {Type: "string", Required: true},
			"agent_role":           {Type: "string", Required: true},
			"phase":                {Type: "string", Required: true},
			"plan":                 {Type: "string"},
			"task":                 {Type: "string"},
			"project":              {Type: "string"},
			"category":             {Type: "string"},
			"description":          {Type: "string"},
			"diff":                 {Type: "string"},
			"review_id":            {Type: "string"},
			"skip_diff_validation": {Type: "boolean"},
		},
		Execute: b.createReview,
	}
}

func (b *Broker) createReview(ctx context.Context, args map[string]any) (any, error) {
	intent, err := requiredString(args, "intent")
	if err != nil {
		return nil, err
	}
	agentType, err := requiredString(args, "agent_type")
	if err != nil {
		return nil, err
	}
	agentRole, err := requiredString(args, "agent_role")
	if err != nil {
		return nil, err
	}
	phase, err := requiredString(args, "phase")
	if err != nil {
		return nil, err
	}

	plan := optionalString(args, "plan")
	task := optionalString(args, "task")
	project := optionalString(args, "project")
	category := optionalString(args, "category")
	description := optionalString(args, "description")
	diff := optionalString(args, "diff")
	skip := optionalBool(args, "skip_diff_validation")
	revisionID := optionalString(args, "review_id")

	validated, verr := diffvalidator.Validate(ctx, diff, b.workTree, skip)
	if verr != nil {
		if conflict, ok := verr.(*diffvalidator.ErrConflict); ok {
			return nil, newError(KindDiffValidationFailed, "diff does not apply", conflict.Stderr)
		}
		return nil, dbError(verr)
	}

	var result map[string]any
	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		now := nowForWrite()

		if revisionID != "" {
			rv, err := b.reviews.Get(ctx, q, revisionID)
			if err != nil {
				return translateRepoErr(err, "review")
			}
			if rv.Status != store.StatusChangesRequested {
				return newError(KindInvalidState, "review must be in changes_requested to submit a revision", "")
			}
			if err := statemachine.Validate(rv.Status, store.StatusPending); err != nil {
				return newError(KindInvalidTransition, err.Error(), "")
			}

			rv.CurrentRound++
			rv.Status = store.StatusPending
			rv.ClaimedBy = ""
			rv.CounterPatch = ""
			rv.CounterPatchAffectedFiles = nil
			rv.CounterPatchStatus = ""
			rv.Intent = intent
			rv.Description = description
			rv.Diff = diff
			rv.AffectedFiles = validated.AffectedFiles
			rv.SkipDiffValidation = skip
			rv.UpdatedAt = now

			if err := b.reviews.Update(ctx, q, rv); err != nil {
				return dbError(err)
			}
			if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventRevisionCreated, string(rv.AgentRole), map[string]any{"round": rv.CurrentRound}); err != nil {
				return dbError(err)
			}
			result = map[string]any{"review_id": rv.ID, "status": rv.Status, "current_round": rv.CurrentRound}
			return nil
		}

		rv := &store.Review{
			ID:                 store.NewID(),
			Status:             store.StatusPending,
			Intent:             intent,
			Description:        description,
			Diff:               diff,
			AffectedFiles:      validated.AffectedFiles,
			SkipDiffValidation: skip,
			AgentType:          agentType,
			AgentRole:          store.AgentRole(agentRole),
			Phase:              phase,
			Plan:               plan,
			Task:               task,
			Project:            project,
			Category:           store.Category(category),
			Priority:           priority.Infer(agentType, phase, task),
			CurrentRound:       1,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := b.reviews.Insert(ctx, q, rv); err != nil {
			return dbError(err)
		}
		if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventReviewCreated, agentRole, nil); err != nil {
			return dbError(err)
		}
		result = map[string]any{"review_id": rv.ID, "status": rv.Status, "current_round": rv.CurrentRound}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reviewID, _ := result["review_id"].(string)
	b.notify.Emit(reviewID)
	return result, nil
}

func (b *Broker) listReviewsTool() Tool {
	return Tool{
		Name:        "list_reviews",
		Description: "List reviews matching a filter, optionally long-polling until one matches.",
		Parameters: map[string]Param{
			"status":   {Type: "string"},
			"category": {Type: "string"},
			"project":  {Type: "string"},
			"wait":     {Type: "boolean"},
		},
		Execute: b.listReviews,
	}
}

func (b *Broker) listReviews(ctx context.Context, args map[string]any) (any, error) {
	filter := store.ListFilter{
		Status:   store.Status(optionalString(args, "status")),
		Category: store.Category(optionalString(args, "category")),
		Project:  optionalString(args, "project"),
	}
	wait := optionalBool(args, "wait")

	reviews, err := b.reviews.List(ctx, b.db, filter)
	if err != nil {
		return nil, dbError(err)
	}

	if wait && len(reviews) == 0 {
		b.notify.WaitGlobal(ctx, b.waitTimer())
		reviews, err = b.reviews.List(ctx, b.db, filter)
		if err != nil {
			return nil, dbError(err)
		}
	}

	views := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		views = append(views, reviewView(r))
	}
	return map[string]any{"count": len(views), "reviews": views}, nil
}

func (b *Broker) getReviewStatusTool() Tool {
	return Tool{
		Name:        "get_review_status",
		Description: "Read a review's current status, optionally long-polling for the next change.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
			"wait":      {Type: "boolean"},
			"caller_id": {Type: "string"},
		},
		Execute: b.getReviewStatus,
	}
}

func (b *Broker) getReviewStatus(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	wait := optionalBool(args, "wait")

	if wait {
		b.notify.Wait(ctx, reviewID, b.waitTimer())
	}

	rv, err := b.reviews.Get(ctx, b.db, reviewID)
	if err != nil {
		return nil, translateRepoErr(err, "review")
	}
	return reviewView(rv), nil
}

func (b *Broker) claimReviewTool() Tool {
	return Tool{
		Name:        "claim_review",
		Description: "Claim a pending review for a reviewer, re-validating its diff against the working tree.",
		Parameters: map[string]Param{
			"review_id":   {Type: "string", Required: true},
			"reviewer_id": {Type: "string", Required: true},
		},
		Execute: b.claimReview,
	}
}

func (b *Broker) claimReview(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	reviewerID, err := requiredString(args, "reviewer_id")
	if err != nil {
		return nil, err
	}

	var result map[string]any
	var claimErr error
	writeErr := b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if err := statemachine.Validate(rv.Status, store.StatusClaimed); err != nil {
			return newError(KindInvalidTransition, err.Error(), "")
		}

		now := nowForWrite()

		if !rv.SkipDiffValidation && rv.Diff != "" {
			if _, verr := diffvalidator.Validate(ctx, rv.Diff, b.workTree, false); verr != nil {
				conflict, _ := verr.(*diffvalidator.ErrConflict)
				detail := ""
				if conflict != nil {
					detail = conflict.Stderr
				}
				rv.Status = store.StatusChangesRequested
				rv.VerdictReason = detail
				rv.UpdatedAt = now
				if err := b.reviews.Update(ctx, q, rv); err != nil {
					return dbError(err)
				}
				if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventAutoRejected, reviewerID, map[string]any{"reason": detail}); err != nil {
					return dbError(err)
				}
				claimErr = newError(KindDiffConflict, "diff no longer applies; review moved to changes_requested", detail)
				return nil
			}
		}

		rv.ClaimedBy = reviewerID
		rv.ClaimGeneration++
		rv.Status = store.StatusClaimed
		rv.UpdatedAt = now
		if err := b.reviews.Update(ctx, q, rv); err != nil {
			return dbError(err)
		}
		if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventClaimed, reviewerID, map[string]any{"claim_generation": rv.ClaimGeneration}); err != nil {
			return dbError(err)
		}
		result = map[string]any{"review_id": rv.ID, "status": rv.Status, "claim_generation": rv.ClaimGeneration}
		return nil
	})
	if writeErr != nil {
		return nil, writeErr
	}

	b.notify.Emit(reviewID)
	if claimErr != nil {
		return nil, claimErr
	}
	return result, nil
}

func (b *Broker) submitVerdictTool() Tool {
	return Tool{
		Name:        "submit_verdict",
		Description: "Submit a verdict (approved, changes_requested, or comment) on a claimed review.",
		Parameters: map[string]Param{
			"review_id":        {Type: "string", Required: true},
			"verdict":          {Type: "string", Required: true},
			"notes":            {Type: "string"},
			"counter_patch":    {Type: "string"},
			"claim_generation": {Type: "integer"},
		},
		Execute: b.submitVerdict,
	}
}

func (b *Broker) submitVerdict(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	verdict, err := requiredString(args, "verdict")
	if err != nil {
		return nil, err
	}
	if verdict != "approved" && verdict != "changes_requested" && verdict != "comment" {
		return nil, invalidArgument("verdict must be approved, changes_requested, or comment")
	}
	notes := optionalString(args, "notes")
	if verdict != "approved" && notes == "" {
		return nil, invalidArgument("notes are required for a non-approved verdict")
	}
	counterPatch := optionalString(args, "counter_patch")
	claimGen := optionalInt(args, "claim_generation")

	var result map[string]any
	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if rv.Status != store.StatusClaimed && rv.Status != store.StatusInReview {
			return newError(KindInvalidState, "review must be claimed or in_review to submit a verdict", "")
		}
		if claimGen != 0 && claimGen != rv.ClaimGeneration {
			return newError(KindStaleClaimGeneration, "claim_generation does not match the current claim", "")
		}
		if counterPatch != "" && verdict == "approved" {
			return newError(KindCounterPatchNotAllowed, "a counter patch cannot accompany an approved verdict", "")
		}

		var affected []string
		if counterPatch != "" {
			validated, verr := diffvalidator.Validate(ctx, counterPatch, b.workTree, rv.SkipDiffValidation)
			if verr != nil {
				conflict, _ := verr.(*diffvalidator.ErrConflict)
				detail := ""
				if conflict != nil {
					detail = conflict.Stderr
				}
				return newError(KindCounterPatchValidationFailed, "counter patch does not apply", detail)
			}
			affected = validated.AffectedFiles
		}

		now := nowForWrite()
		var target store.Status
		switch verdict {
		case "approved":
			target = store.StatusApproved
		case "changes_requested":
			target = store.StatusChangesRequested
		case "comment":
			target = rv.Status
			if rv.Status == store.StatusClaimed {
				target = store.StatusInReview
			}
		}
		if target != rv.Status {
			if err := statemachine.Validate(rv.Status, target); err != nil {
				return newError(KindInvalidTransition, err.Error(), "")
			}
		}

		rv.Status = target
		rv.VerdictReason = notes
		if counterPatch != "" {
			rv.CounterPatch = counterPatch
			rv.CounterPatchAffectedFiles = affected
			rv.CounterPatchStatus = store.CounterPatchPending
		}
		rv.UpdatedAt = now
		if err := b.reviews.Update(ctx, q, rv); err != nil {
			return dbError(err)
		}
		if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventVerdictSubmitted, string(store.RoleReviewer), map[string]any{
			"verdict":           verdict,
			"has_counter_patch": counterPatch != "",
		}); err != nil {
			return dbError(err)
		}
		result = map[string]any{"review_id": rv.ID, "status": rv.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.notify.Emit(reviewID)
	return result, nil
}

func (b *Broker) acceptCounterPatchTool() Tool {
	return Tool{
		Name:        "accept_counter_patch",
		Description: "Accept a pending counter patch, re-validating it against the working tree.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
		},
		Execute: b.acceptCounterPatch,
	}
}

func (b *Broker) acceptCounterPatch(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}

	var result map[string]any
	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if rv.CounterPatchStatus != store.CounterPatchPending {
			return newError(KindNoPendingCounterPatch, "review has no pending counter patch", "")
		}

		validated, verr := diffvalidator.Validate(ctx, rv.CounterPatch, b.workTree, rv.SkipDiffValidation)
		if verr != nil {
			conflict, _ := verr.(*diffvalidator.ErrConflict)
			detail := ""
			if conflict != nil {
				detail = conflict.Stderr
			}
			return newError(KindStaleCounterPatch, "counter patch no longer applies", detail)
		}

		rv.Diff = rv.CounterPatch
		rv.AffectedFiles = validated.AffectedFiles
		rv.CounterPatch = ""
		rv.CounterPatchAffectedFiles = nil
		rv.CounterPatchStatus = store.CounterPatchAccepted
		rv.UpdatedAt = nowForWrite()
		if err := b.reviews.Update(ctx, q, rv); err != nil {
			return dbError(err)
		}
		if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventCounterPatchAccepted, string(store.RoleProposer), nil); err != nil {
			return dbError(err)
		}
		result = map[string]any{"review_id": rv.ID, "status": rv.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.notify.Emit(reviewID)
	return result, nil
}

func (b *Broker) rejectCounterPatchTool() Tool {
	return Tool{
		Name:        "reject_counter_patch",
		Description: "Reject a pending counter patch without changing the review's diff.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
		},
		Execute: b.rejectCounterPatch,
	}
}

func (b *Broker) rejectCounterPatch(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}

	var result map[string]any
	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if rv.CounterPatchStatus != store.CounterPatchPending {
			return newError(KindNoPendingCounterPatch, "review has no pending counter patch", "")
		}

		rv.CounterPatch = ""
		rv.CounterPatchAffectedFiles = nil
		rv.CounterPatchStatus = store.CounterPatchRejected
		rv.UpdatedAt = nowForWrite()
		if err := b.reviews.Update(ctx, q, rv); err != nil {
			return dbError(err)
		}
		if err := appendEvent(ctx, b.audit, q, rv.ID, store.EventCounterPatchRejected, string(store.RoleProposer), nil); err != nil {
			return dbError(err)
		}
		result = map[string]any{"review_id": rv.ID, "status": rv.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.notify.Emit(reviewID)
	return result, nil
}

func (b *Broker) closeReviewTool() Tool {
	return Tool{
		Name:        "close_review",
		Description: "Close a review from any non-terminal state.",
		Parameters: map[string]Param{
			"review_id":   {Type: "string", Required: true},
			"closer_role": {Type: "string"},
		},
		Execute: b.closeReview,
	}
}

func (b *Broker) closeReview(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	closerRole := optionalString(args, "closer_role")

	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if err := statemachine.Validate(rv.Status, store.StatusClosed); err != nil {
			return newError(KindInvalidTransition, err.Error(), "")
		}
		rv.Status = store.StatusClosed
		rv.UpdatedAt = nowForWrite()
		if err := b.reviews.Update(ctx, q, rv); err != nil {
			return dbError(err)
		}
		return appendEvent(ctx, b.audit, q, rv.ID, store.EventClosed, closerRole, nil)
	})
	if err != nil {
		return nil, err
	}

	b.notify.Emit(reviewID)
	b.notify.Cleanup(reviewID)
	return map[string]any{"review_id": reviewID, "status": store.StatusClosed}, nil
}

func (b *Broker) addMessageTool() Tool {
	return Tool{
		Name:        "add_message",
		Description: "Append a discussion message to a review's thread, enforcing strict turn alternation.",
		Parameters: map[string]Param{
			"review_id":   {Type: "string", Required: true},
			"sender_role": {Type: "string", Required: true},
			"body":        {Type: "string", Required: true},
			"metadata":    {Type: "string"},
		},
		Execute: b.addMessage,
	}
}

func (b *Broker) addMessage(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	senderRole, err := requiredString(args, "sender_role")
	if err != nil {
		return nil, err
	}
	if senderRole != string(store.RoleProposer) && senderRole != string(store.RoleReviewer) {
		return nil, invalidArgument("sender_role must be proposer or reviewer")
	}
	body, err := requiredString(args, "body")
	if err != nil {
		return nil, err
	}
	metadata := optionalString(args, "metadata")

	var msg *store.Message
	err = b.coord.Write(ctx, func(q coordinator.Queryer) error {
		rv, err := b.reviews.Get(ctx, q, reviewID)
		if err != nil {
			return translateRepoErr(err, "review")
		}
		if rv.Status != store.StatusClaimed && rv.Status != store.StatusInReview && rv.Status != store.StatusChangesRequested {
			return newError(KindInvalidState, "review is not open for discussion", "")
		}

		last, err := b.messages.LastSenderRole(ctx, q, reviewID)
		if err != nil {
			return dbError(err)
		}
		if last != "" && string(last) == senderRole {
			return newError(KindTurnViolation, "consecutive messages must alternate sender_role", "")
		}

		msg = &store.Message{
			ID:         store.NewID(),
			ReviewID:   reviewID,
			SenderRole: store.AgentRole(senderRole),
			Round:      rv.CurrentRound,
			Body:       body,
			Metadata:   metadata,
			CreatedAt:  nowForWrite(),
		}
		if err := b.messages.Insert(ctx, q, msg); err != nil {
			return dbError(err)
		}
		return appendEvent(ctx, b.audit, q, reviewID, store.EventMessageAdded, senderRole, map[string]any{"round": msg.Round})
	})
	if err != nil {
		return nil, err
	}

	b.notify.Emit(reviewID)
	return map[string]any{"message_id": msg.ID, "round": msg.Round}, nil
}

func (b *Broker) getDiscussionTool() Tool {
	return Tool{
		Name:        "get_discussion",
		Description: "Read a review's discussion thread, optionally filtered to one round.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
			"round":     {Type: "integer"},
		},
		Execute: b.getDiscussion,
	}
}

func (b *Broker) getDiscussion(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	round := optionalInt(args, "round")

	msgs, err := b.messages.ListByReview(ctx, b.db, reviewID, round)
	if err != nil {
		return nil, dbError(err)
	}

	views := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		metadata, warn := parseMetadataOrNil(m.Metadata)
		view := map[string]any{
			"id":          m.ID,
			"sender_role": m.SenderRole,
			"round":       m.Round,
			"body":        m.Body,
			"metadata":    metadata,
			"created_at":  m.CreatedAt.Format(store.RFC3339Milli),
		}
		if warn {
			view["metadata_warning"] = true
		}
		views = append(views, view)
	}
	return map[string]any{"count": len(views), "messages": views}, nil
}

func (b *Broker) getProposalTool() Tool {
	return Tool{
		Name:        "get_proposal",
		Description: "Read a review's full proposal, including diff and counter-patch state.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
		},
		Execute: b.getProposal,
	}
}

func (b *Broker) getProposal(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	rv, err := b.reviews.Get(ctx, b.db, reviewID)
	if err != nil {
		return nil, translateRepoErr(err, "review")
	}
	return reviewView(rv), nil
}

func (b *Broker) getActivityFeedTool() Tool {
	return Tool{
		Name:        "get_activity_feed",
		Description: "Read the most recent reviews with a preview of their last discussion message.",
		Parameters: map[string]Param{
			"status":   {Type: "string"},
			"category": {Type: "string"},
			"project":  {Type: "string"},
		},
		Execute: b.getActivityFeed,
	}
}

func (b *Broker) getActivityFeed(ctx context.Context, args map[string]any) (any, error) {
	filter := store.ListFilter{
		Status:   store.Status(optionalString(args, "status")),
		Category: store.Category(optionalString(args, "category")),
		Project:  optionalString(args, "project"),
	}
	reviews, err := b.reviews.List(ctx, b.db, filter)
	if err != nil {
		return nil, dbError(err)
	}

	entries := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		msgs, err := b.messages.ListByReview(ctx, b.db, r.ID, 0)
		if err != nil {
			return nil, dbError(err)
		}
		entry := map[string]any{
			"review":        reviewView(r),
			"message_count": len(msgs),
		}
		if len(msgs) > 0 {
			entry["last_message_preview"] = msgs[len(msgs)-1].Body
		}
		entries = append(entries, entry)
	}
	return map[string]any{"count": len(entries), "activity": entries}, nil
}

func (b *Broker) getAuditLogTool() Tool {
	return Tool{
		Name:        "get_audit_log",
		Description: "Read audit events for one review, or across all reviews.",
		Parameters: map[string]Param{
			"review_id": {Type: "string"},
		},
		Execute: b.getAuditLog,
	}
}

func (b *Broker) getAuditLog(ctx context.Context, args map[string]any) (any, error) {
	reviewID := optionalString(args, "review_id")
	events, err := b.audit.AllEvents(ctx, b.db, reviewID)
	if err != nil {
		return nil, dbError(err)
	}
	return map[string]any{"count": len(events), "events": eventViews(events)}, nil
}

func (b *Broker) getReviewStatsTool() Tool {
	return Tool{
		Name:        "get_review_stats",
		Description: "Compute counts, approval rate, and timing metrics derived from the audit log.",
		Parameters: map[string]Param{
			"project": {Type: "string"},
		},
		Execute: b.getReviewStats,
	}
}

func (b *Broker) getReviewStats(ctx context.Context, args map[string]any) (any, error) {
	project := optionalString(args, "project")
	reviews, err := b.reviews.List(ctx, b.db, store.ListFilter{Project: project})
	if err != nil {
		return nil, dbError(err)
	}
	events, err := b.audit.AllEvents(ctx, b.db, "")
	if err != nil {
		return nil, dbError(err)
	}
	stats, err := b.audit.ComputeStats(ctx, b.db, reviews, events)
	if err != nil {
		return nil, dbError(err)
	}

	avgTimeInState := map[string]string{}
	for s, d := range stats.AvgTimeInState {
		avgTimeInState[string(s)] = d.String()
	}
	countsByStatus := map[string]int{}
	for s, c := range stats.CountsByStatus {
		countsByStatus[string(s)] = c
	}
	countsByCategory := map[string]int{}
	for c, n := range stats.CountsByCategory {
		countsByCategory[string(c)] = n
	}

	return map[string]any{
		"counts_by_status":    countsByStatus,
		"counts_by_category":  countsByCategory,
		"approval_rate":       stats.ApprovalRate,
		"avg_time_to_verdict": stats.AvgTimeToVerdict.String(),
		"avg_time_in_state":   avgTimeInState,
	}, nil
}

func (b *Broker) getReviewTimelineTool() Tool {
	return Tool{
		Name:        "get_review_timeline",
		Description: "Read the chronological event sequence for one review.",
		Parameters: map[string]Param{
			"review_id": {Type: "string", Required: true},
		},
		Execute: b.getReviewTimeline,
	}
}

func (b *Broker) getReviewTimeline(ctx context.Context, args map[string]any) (any, error) {
	reviewID, err := requiredString(args, "review_id")
	if err != nil {
		return nil, err
	}
	events, err := b.audit.Timeline(ctx, b.db, reviewID)
	if err != nil {
		return nil, dbError(err)
	}
	return map[string]any{"review_id": reviewID, "events": eventViews(events)}, nil
}

func eventViews(events []*store.AuditEvent) []map[string]any {
	views := make([]map[string]any, 0, len(events))
	for _, e := range events {
		metadata, warn := parseMetadataOrNil(e.Metadata)
		view := map[string]any{
			"id":         e.ID,
			"review_id":  e.ReviewID,
			"event_type": e.EventType,
			"actor":      e.Actor,
			"metadata":   metadata,
			"created_at": e.CreatedAt.Format(store.RFC3339Milli),
		}
		if warn {
			view["metadata_warning"] = true
		}
		views = append(views, view)
	}
	return views
}

func translateRepoErr(err error, what string) error {
	if err == store.ErrNotFound {
		return notFound(what)
	}
	return dbError(err)
}

func nowForWrite() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func parseMetadataOrNil(raw string) (any, bool) {
	return store.ParseMetadataOrNil(raw)
}
