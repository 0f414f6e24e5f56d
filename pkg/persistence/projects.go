package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const projectColumns = `id, repo_config_id, title, description, ticket_type, severity_score, status, plan_id,
	github_issue_number, github_issue_url, github_pr_number, github_pr_url, failure_reason,
	source_feedback_id, created_at, updated_at`

func scanProject(row rowScanner) (*Project, error) {
	var (
		p                                    Project
		description, planID, issueURL        sql.NullString
		prURL, failureReason, sourceFeedback sql.NullString
		issueNumber, prNumber                sql.NullInt64
		createdAt, updatedAt                 string
	)
	if err := row.Scan(&p.ID, &p.RepoConfigID, &p.Title, &description, &p.TicketType, &p.SeverityScore,
		&p.Status, &planID, &issueNumber, &issueURL, &prNumber, &prURL, &failureReason,
		&sourceFeedback, &createdAt, &updatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	p.Description = description.String
	p.PlanID = planID.String
	p.IssueNumber = int(issueNumber.Int64)
	p.IssueURL = issueURL.String
	p.PRNumber = int(prNumber.Int64)
	p.PRURL = prURL.String
	p.FailureReason = failureReason.String
	p.SourceFeedbackID = sourceFeedback.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// CreateProject inserts a new project in pending state.
func (ops *DatabaseOperations) CreateProject(p *Project) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("project title is required")
	}
	if p.ID == "" {
		p.ID = GenerateID()
	}
	if p.TicketType == "" {
		p.TicketType = TicketFeature
	}
	if !IsValidTicketType(p.TicketType) {
		return fmt.Errorf("invalid ticket type %q", p.TicketType)
	}
	p.Status = StatusPending
	now := ops.now()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := ops.db.Exec(`INSERT INTO projects (id, repo_config_id, title, description, ticket_type,
			severity_score, status, source_feedback_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RepoConfigID, p.Title, nullString(p.Description), p.TicketType, p.SeverityScore,
		p.Status, nullString(p.SourceFeedbackID), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject returns the project with the given id.
func (ops *DatabaseOperations) GetProject(id string) (*Project, error) {
	p, err := scanProject(ops.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjectsByRepo returns the projects of a repository configuration, newest first.
func (ops *DatabaseOperations) ListProjectsByRepo(repoConfigID string) ([]*Project, error) {
	return ops.queryProjects(`SELECT `+projectColumns+` FROM projects WHERE repo_config_id = ? ORDER BY created_at DESC`, repoConfigID)
}

// GetActiveProject returns the newest non-terminal project of a repository configuration.
func (ops *DatabaseOperations) GetActiveProject(repoConfigID string) (*Project, error) {
	p, err := scanProject(ops.db.QueryRow(`SELECT `+projectColumns+` FROM projects
		WHERE repo_config_id = ? AND status NOT IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		repoConfigID, StatusCompleted, StatusFailed, StatusClosed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active project for repo %s: %w", repoConfigID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active project for repo %s: %w", repoConfigID, err)
	}
	return p, nil
}

func (ops *DatabaseOperations) queryProjects(query string, args ...any) ([]*Project, error) {
	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// execGuarded runs a guarded UPDATE and reports whether exactly one row changed.
func (ops *DatabaseOperations) execGuarded(op, query string, args ...any) (bool, error) {
	res, err := ops.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n == 1, nil
}

// CompareAndSetStatus moves a project from expected to next. It returns false, with no
// error, when the stored status is not expected.
func (ops *DatabaseOperations) CompareAndSetStatus(id, expected, next string) (bool, error) {
	return ops.execGuarded("update project status",
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		next, formatTime(ops.now()), id, expected)
}

// ClaimIssue reserves issue creation for token. Only a pending project without an issue
// and without another live claim can be claimed.
func (ops *DatabaseOperations) ClaimIssue(id, token string) (bool, error) {
	return ops.execGuarded("claim issue",
		`UPDATE projects SET issue_claim = ?, updated_at = ?
		WHERE id = ? AND status = ? AND issue_claim IS NULL AND github_issue_number IS NULL`,
		token, formatTime(ops.now()), id, StatusPending)
}

// ReleaseIssueClaim drops a claim held by token so a later approval can retry.
func (ops *DatabaseOperations) ReleaseIssueClaim(id, token string) error {
	_, err := ops.db.Exec(`UPDATE projects SET issue_claim = NULL, updated_at = ?
		WHERE id = ? AND issue_claim = ? AND github_issue_number IS NULL`,
		formatTime(ops.now()), id, token)
	if err != nil {
		return fmt.Errorf("failed to release issue claim on %s: %w", id, err)
	}
	return nil
}

// SetIssueRef stores the issue reference. The reference is write-once; a second call
// returns false.
func (ops *DatabaseOperations) SetIssueRef(id string, number int, url string) (bool, error) {
	return ops.execGuarded("store issue reference",
		`UPDATE projects SET github_issue_number = ?, github_issue_url = ?, updated_at = ?
		WHERE id = ? AND github_issue_number IS NULL`,
		number, url, formatTime(ops.now()), id)
}

// ResetBuildOutcome clears the change-request reference and failure reason before a new
// build attempt.
func (ops *DatabaseOperations) ResetBuildOutcome(id string) error {
	_, err := ops.db.Exec(`UPDATE projects SET github_pr_number = NULL, github_pr_url = NULL,
		failure_reason = NULL, updated_at = ? WHERE id = ?`, formatTime(ops.now()), id)
	if err != nil {
		return fmt.Errorf("failed to reset build outcome on %s: %w", id, err)
	}
	return nil
}

// CompleteBuild moves an executing project to completed and stores its change request.
func (ops *DatabaseOperations) CompleteBuild(id string, prNumber int, prURL string) (bool, error) {
	return ops.execGuarded("complete build",
		`UPDATE projects SET status = ?, github_pr_number = ?, github_pr_url = ?, failure_reason = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND github_pr_number IS NULL`,
		StatusCompleted, prNumber, prURL, formatTime(ops.now()), id, StatusExecuting)
}

// FailBuild moves an executing project to failed and stores the reason.
func (ops *DatabaseOperations) FailBuild(id, reason string) (bool, error) {
	return ops.execGuarded("fail build",
		`UPDATE projects SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusFailed, reason, formatTime(ops.now()), id, StatusExecuting)
}
