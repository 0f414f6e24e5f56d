package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const planColumns = `id, project_id, title, content, approved, approved_at, version, created_at, updated_at`

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		plan                 Plan
		approvedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&plan.ID, &plan.ProjectID, &plan.Title, &plan.Content, &plan.Approved,
		&approvedAt, &plan.Version, &createdAt, &updatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	plan.ApprovedAt = nullTime(approvedAt)
	plan.CreatedAt = parseTime(createdAt)
	plan.UpdatedAt = parseTime(updatedAt)
	return &plan, nil
}

// StatusConflictError reports a guarded write refused because the owning project was not
// in one of the statuses the caller required.
type StatusConflictError struct {
	ProjectID string
	Observed  string
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("project %s is %s", e.ProjectID, e.Observed)
}

// UpsertActivePlan writes plan content for a project whose status is one of allowed. When
// the project already has an active plan its content is replaced, its version incremented
// and its approval cleared; otherwise a new plan row is created. The status check, the plan
// write and the project's plan_id all happen in one transaction. created reports whether a
// new row was inserted. A project in any other status yields *StatusConflictError.
func (ops *DatabaseOperations) UpsertActivePlan(projectID string, allowed []string, title, content string) (plan *Plan, created bool, err error) {
	if len(allowed) == 0 {
		return nil, false, fmt.Errorf("upsert plan for project %s: no allowed statuses", projectID)
	}

	tx, err := ops.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin plan transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := formatTime(ops.now())

	// The guarded write comes first so the transaction holds the write lock before it
	// reads anything.
	args := make([]any, 0, len(allowed)+2)
	args = append(args, now, projectID)
	for _, status := range allowed {
		args = append(args, status)
	}
	res, err := tx.Exec(`UPDATE projects SET updated_at = ? WHERE id = ? AND status IN (`+placeholders(len(allowed))+`)`, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to guard plan write for project %s: %w", projectID, err)
	}
	if n, rowsErr := res.RowsAffected(); rowsErr != nil || n != 1 {
		var observed string
		switch scanErr := tx.QueryRow(`SELECT status FROM projects WHERE id = ?`, projectID).Scan(&observed); {
		case errors.Is(scanErr, sql.ErrNoRows):
			err = fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		case scanErr != nil:
			err = fmt.Errorf("failed to read status of project %s: %w", projectID, scanErr)
		default:
			err = &StatusConflictError{ProjectID: projectID, Observed: observed}
		}
		return nil, false, err
	}

	existing, err := scanPlan(tx.QueryRow(`SELECT `+planColumns+` FROM plans WHERE project_id = ? AND superseded = 0`, projectID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		plan = &Plan{ID: GenerateID(), ProjectID: projectID, Title: title, Content: content, Version: 1}
		if _, err = tx.Exec(`INSERT INTO plans (id, project_id, title, content, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`, plan.ID, projectID, title, content, now, now); err != nil {
			return nil, false, fmt.Errorf("failed to insert plan for project %s: %w", projectID, err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to read active plan for project %s: %w", projectID, err)
	default:
		plan = existing
		plan.Title, plan.Content = title, content
		plan.Version++
		plan.Approved, plan.ApprovedAt = false, nil
		if _, err = tx.Exec(`UPDATE plans SET title = ?, content = ?, version = ?, approved = 0, approved_at = NULL,
			updated_at = ? WHERE id = ?`, title, content, plan.Version, now, plan.ID); err != nil {
			return nil, false, fmt.Errorf("failed to supersede plan %s: %w", plan.ID, err)
		}
	}

	if _, err = tx.Exec(`UPDATE projects SET plan_id = ? WHERE id = ?`, plan.ID, projectID); err != nil {
		return nil, false, fmt.Errorf("failed to link plan %s: %w", plan.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit plan %s: %w", plan.ID, err)
	}

	plan.UpdatedAt = parseTime(now)
	if created {
		plan.CreatedAt = plan.UpdatedAt
	}
	return plan, created, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GetPlan returns the plan with the given id.
func (ops *DatabaseOperations) GetPlan(id string) (*Plan, error) {
	plan, err := scanPlan(ops.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	return plan, nil
}

// GetActivePlan returns the non-superseded plan of a project.
func (ops *DatabaseOperations) GetActivePlan(projectID string) (*Plan, error) {
	plan, err := scanPlan(ops.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE project_id = ? AND superseded = 0`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active plan for project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active plan for project %s: %w", projectID, err)
	}
	return plan, nil
}

// ApprovePlan stores the final content of a plan and marks it approved. The owning
// project must be in projectStatus; otherwise nothing is written and *StatusConflictError
// is returned.
func (ops *DatabaseOperations) ApprovePlan(id, content, projectStatus string) (*Plan, error) {
	now := formatTime(ops.now())
	ok, err := ops.execGuarded("approve plan",
		`UPDATE plans SET content = ?, approved = 1, approved_at = ?, updated_at = ?
		WHERE id = ? AND superseded = 0
		AND EXISTS (SELECT 1 FROM projects WHERE projects.id = plans.project_id AND projects.status = ?)`,
		content, now, now, id, projectStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		plan, err := ops.GetPlan(id)
		if err != nil {
			return nil, err
		}
		project, err := ops.GetProject(plan.ProjectID)
		if err != nil {
			return nil, err
		}
		return nil, &StatusConflictError{ProjectID: project.ID, Observed: project.Status}
	}
	return ops.GetPlan(id)
}
