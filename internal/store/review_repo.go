package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// ReviewRepo reads and writes review rows. Writes must run inside a
// transaction obtained from the WriteCoordinator; reads may use either a
// transaction or the shared connection directly.
type ReviewRepo struct {
	db *DB
}

func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const reviewColumns = `id, status, intent, description, diff, affected_files, skip_diff_validation,
	agent_type, agent_role, phase, plan, task, project, category, priority, current_round,
	claimed_by, claim_generation, verdict_reason, counter_patch, counter_patch_affected_files,
	counter_patch_status, created_at, updated_at`

func scanReview(row interface{ Scan(...any) error }) (*Review, error) {
	var r Review
	var description, diff, affectedFiles, agentType, agentRole, phase, plan, task, project sql.NullString
	var category, claimedBy, verdictReason, counterPatch, counterPatchFiles, counterPatchStatus sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.Status, &r.Intent, &description, &diff, &affectedFiles, &r.SkipDiffValidation,
		&agentType, &agentRole, &phase, &plan, &task, &project, &category, &r.Priority, &r.CurrentRound,
		&claimedBy, &r.ClaimGeneration, &verdictReason, &counterPatch, &counterPatchFiles,
		&counterPatchStatus, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	r.Diff = diff.String
	r.AgentType = agentType.String
	r.AgentRole = AgentRole(agentRole.String)
	r.Phase = phase.String
	r.Plan = plan.String
	r.Task = task.String
	r.Project = project.String
	r.Category = Category(category.String)
	r.ClaimedBy = claimedBy.String
	r.VerdictReason = verdictReason.String
	r.CounterPatch = counterPatch.String
	r.CounterPatchStatus = CounterPatchStatus(counterPatchStatus.String)

	if r.AffectedFiles, err = decodeStringSlice(affectedFiles.String); err != nil {
		return nil, fmt.Errorf("decode affected_files: %w", err)
	}
	if r.CounterPatchAffectedFiles, err = decodeStringSlice(counterPatchFiles.String); err != nil {
		return nil, fmt.Errorf("decode counter_patch_affected_files: %w", err)
	}
	if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &r, nil
}

// Get fetches a review by id. Returns ErrNotFound if absent.
func (r *ReviewRepo) Get(ctx context.Context, q queryer, id string) (*Review, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	rv, err := scanReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

// ListFilter narrows List to a subset of reviews.
type ListFilter struct {
	Status   Status
	Category Category
	Project  string
}

// List returns reviews matching filter, ordered by priority tier
// (critical, normal, low) then by creation time ascending.
func (r *ReviewRepo) List(ctx context.Context, q queryer, f ListFilter) ([]*Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(f.Category))
	}
	if f.Project != "" {
		query += ` AND project = ?`
		args = append(args, f.Project)
	}
	query += ` ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'normal' THEN 1 WHEN 'low' THEN 2 ELSE 1 END, created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// Insert creates a new review row. Caller sets all fields including
// timestamps (use nowUTC()).
func (r *ReviewRepo) Insert(ctx context.Context, q queryer, rv *Review) error {
	affected, err := encodeStringSlice(rv.AffectedFiles)
	if err != nil {
		return fmt.Errorf("encode affected_files: %w", err)
	}
	counterFiles, err := encodeStringSlice(rv.CounterPatchAffectedFiles)
	if err != nil {
		return fmt.Errorf("encode counter_patch_affected_files: %w", err)
	}

	_, err = q.ExecContext(ctx, `INSERT INTO reviews (`+reviewColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.Status, rv.Intent, nullable(rv.Description), nullable(rv.Diff), nullable(affected), rv.SkipDiffValidation,
		nullable(rv.AgentType), nullable(string(rv.AgentRole)), nullable(rv.Phase), nullable(rv.Plan), nullable(rv.Task),
		nullable(rv.Project), nullable(string(rv.Category)), rv.Priority, rv.CurrentRound,
		nullable(rv.ClaimedBy), rv.ClaimGeneration, nullable(rv.VerdictReason), nullable(rv.CounterPatch),
		nullable(counterFiles), nullable(string(rv.CounterPatchStatus)),
		formatTimestamp(rv.CreatedAt), formatTimestamp(rv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// Update overwrites every mutable column of an existing review row.
func (r *ReviewRepo) Update(ctx context.Context, q queryer, rv *Review) error {
	affected, err := encodeStringSlice(rv.AffectedFiles)
	if err != nil {
		return fmt.Errorf("encode affected_files: %w", err)
	}
	counterFiles, err := encodeStringSlice(rv.CounterPatchAffectedFiles)
	if err != nil {
		return fmt.Errorf("encode counter_patch_affected_files: %w", err)
	}

	res, err := q.ExecContext(ctx, `UPDATE reviews SET
		status=?, intent=?, description=?, diff=?, affected_files=?, skip_diff_validation=?,
		agent_type=?, agent_role=?, phase=?, plan=?, task=?, project=?, category=?,
		current_round=?, claimed_by=?, claim_generation=?, verdict_reason=?,
		counter_patch=?, counter_patch_affected_files=?, counter_patch_status=?, updated_at=?
		WHERE id = ?`,
		rv.Status, rv.Intent, nullable(rv.Description), nullable(rv.Diff), nullable(affected), rv.SkipDiffValidation,
		nullable(rv.AgentType), nullable(string(rv.AgentRole)), nullable(rv.Phase), nullable(rv.Plan), nullable(rv.Task),
		nullable(rv.Project), nullable(string(rv.Category)), rv.CurrentRound,
		nullable(rv.ClaimedBy), rv.ClaimGeneration, nullable(rv.VerdictReason),
		nullable(rv.CounterPatch), nullable(counterFiles), nullable(string(rv.CounterPatchStatus)),
		formatTimestamp(rv.UpdatedAt), rv.ID)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
