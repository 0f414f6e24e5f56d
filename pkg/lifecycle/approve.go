package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ticketsmith/pkg/forge"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/planner"
)

// highPrioritySeverity is the severity above which issues get the high-priority label.
const highPrioritySeverity = 100

// IssueResult is the outcome of ApproveProject.
//
//nolint:govet // Logical grouping preferred over memory optimization
type IssueResult struct {
	Project     *persistence.Project `json:"project"`
	IssueNumber int                  `json:"github_issue_number"`
	IssueURL    string               `json:"github_issue_url"`

	// Existing is set when the issue had already been created by an earlier call.
	Existing bool `json:"existing"`

	PlanID    string `json:"plan_id,omitempty"`
	PlanError string `json:"plan_error,omitempty"`
}

// ApproveProject files the project's issue and, when autoGeneratePlan is set, generates
// its plan. Only a pending project can be approved. A project that already has an issue
// returns the existing reference without side effects.
func (c *Controller) ApproveProject(ctx context.Context, projectID string, autoGeneratePlan bool) (*IssueResult, error) {
	const op = "approve project"

	p, status, err := c.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if p.HasIssue() {
		return existingIssue(p), nil
	}
	if status != StatusPending {
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: status}
	}

	repo, client, err := c.repoAndForge(p)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	claimed, err := c.store.ClaimIssue(p.ID, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		current, getErr := c.store.GetProject(p.ID)
		if getErr == nil && current.HasIssue() {
			return existingIssue(current), nil
		}
		observed := status
		if getErr == nil {
			observed = Status(current.Status)
		}
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: observed, Reason: ReasonInProgress}
	}

	issue, err := c.createIssue(ctx, p, repo, client)
	if err != nil {
		if releaseErr := c.store.ReleaseIssueClaim(p.ID, token); releaseErr != nil {
			c.logger.Warn("Failed to release issue claim on %s: %v", p.ID, releaseErr)
		}
		return nil, err
	}

	if err := retryWrite(func() (bool, error) { return c.store.SetIssueRef(p.ID, issue.Number, issue.URL) }); err != nil {
		c.record(p.ID, persistence.LogError, "store_issue",
			fmt.Sprintf("Issue #%d (%s) was created but could not be stored: %v", issue.Number, issue.URL, err), nil)
		return nil, &PersistenceError{
			Err:       err,
			ProjectID: p.ID,
			Op:        "store issue reference",
			Detail:    fmt.Sprintf("issue #%d %s was created on %s", issue.Number, issue.URL, client.RepoPath()),
		}
	}
	p.IssueNumber, p.IssueURL = issue.Number, issue.URL
	c.metrics.IssueCreated()
	c.record(p.ID, persistence.LogInfo, "issue_created", fmt.Sprintf("Created issue #%d", issue.Number),
		map[string]any{"issue_number": issue.Number, "issue_url": issue.URL})

	result := &IssueResult{Project: p, IssueNumber: issue.Number, IssueURL: issue.URL}
	if autoGeneratePlan {
		plan, planErr := c.GeneratePlan(ctx, p.ID)
		if planErr != nil {
			// The issue stands; the plan can be generated again by hand.
			result.PlanError = planErr.Error()
			c.record(p.ID, persistence.LogWarning, "generate_plan", "Automatic plan generation failed: "+planErr.Error(), nil)
		} else {
			result.PlanID = plan.ID
		}
		if refreshed, getErr := c.store.GetProject(p.ID); getErr == nil {
			result.Project = refreshed
		}
	}
	return result, nil
}

// createIssue enriches the issue text and files it.
func (c *Controller) createIssue(ctx context.Context, p *persistence.Project, repo *persistence.RepoConfig, client forge.Client) (*forge.Issue, error) {
	c.record(p.ID, persistence.LogInfo, "enrich_issue", "Enriching issue", nil)
	rc := c.inspect(ctx, p.ID, client, repo)
	text := c.planner.EnrichIssue(ctx, planner.IssueText{Title: p.Title, Description: p.Description}, rc)
	text = c.planner.VerifyFormatting(ctx, text)

	labels := []string{p.TicketType}
	if p.SeverityScore > highPrioritySeverity {
		labels = append(labels, "high-priority")
	}

	c.record(p.ID, persistence.LogInfo, "create_issue", "Creating issue on "+client.RepoPath(),
		map[string]any{"labels": labels})
	issue, err := client.CreateIssue(ctx, forge.IssueCreateOptions{
		Title:  text.Title,
		Body:   text.Description,
		Labels: labels,
	})
	if err != nil {
		c.record(p.ID, persistence.LogError, "create_issue", "Issue creation failed: "+err.Error(), nil)
		return nil, &TransientCollaboratorError{Op: "create issue", Err: err}
	}
	if issue == nil || issue.Number == 0 {
		return nil, &TransientCollaboratorError{Op: "create issue", Err: errors.New("forge returned no issue number")}
	}
	return issue, nil
}

func existingIssue(p *persistence.Project) *IssueResult {
	return &IssueResult{
		Project:     p,
		IssueNumber: p.IssueNumber,
		IssueURL:    p.IssueURL,
		Existing:    true,
		PlanID:      p.PlanID,
	}
}
