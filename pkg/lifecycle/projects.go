package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/persistence"
)

const (
	// coderStatusLogs is how many recent execution logs the coder status includes.
	coderStatusLogs = 20

	defaultActiveTitle = "Pending feedback"
)

// CreateProject inserts a pending project. When the repository has auto_create_issues
// set, the project is approved immediately without a plan; an approval failure is
// logged on the project and does not fail the creation.
func (c *Controller) CreateProject(ctx context.Context, p *persistence.Project) (*persistence.Project, error) {
	repo, err := c.store.GetRepoConfig(p.RepoConfigID)
	if err != nil {
		return nil, fmt.Errorf("load repo config: %w", err)
	}
	if err := c.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	c.record(p.ID, persistence.LogInfo, "project_created", "Project created: "+p.Title,
		map[string]any{"ticket_type": p.TicketType, "repo": repo.FullName()})
	c.notify(ctx, fmt.Sprintf("New project: %s\n\n%s", p.Title, p.Description))

	if repo.AutoCreateIssues {
		if _, err := c.ApproveProject(ctx, p.ID, false); err != nil {
			c.record(p.ID, persistence.LogWarning, "auto_approve", "Automatic approval failed: "+err.Error(), nil)
		}
	}
	return c.reload(p), nil
}

// PromoteFeedback creates a project from a stored feedback summary. The utility model
// picks the title, ticket type and severity; a non-empty ticketType overrides its type.
func (c *Controller) PromoteFeedback(ctx context.Context, feedbackID, repoConfigID, ticketType string) (*persistence.Project, error) {
	rec, err := c.store.GetFeedback(feedbackID)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}

	class := c.planner.Classify(ctx, rec.Summary)
	if ticketType != "" {
		class.TicketType = ticketType
	}
	description := rec.Summary
	if rec.Transcript != "" {
		description += "\n\n### Conversation\n\n" + rec.Transcript
	}

	return c.CreateProject(ctx, &persistence.Project{
		RepoConfigID:     repoConfigID,
		Title:            class.Title,
		Description:      description,
		TicketType:       class.TicketType,
		SeverityScore:    class.SeverityScore,
		SourceFeedbackID: rec.ID,
	})
}

// ActiveProject returns the newest non-terminal project of a repository, creating an
// empty pending one when there is none.
func (c *Controller) ActiveProject(ctx context.Context, repoConfigID string) (*persistence.Project, error) {
	p, err := c.store.GetActiveProject(repoConfigID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := c.store.GetRepoConfig(repoConfigID); err != nil {
		return nil, fmt.Errorf("load repo config: %w", err)
	}
	p = &persistence.Project{RepoConfigID: repoConfigID, Title: defaultActiveTitle, TicketType: persistence.TicketFeature}
	if err := c.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	c.record(p.ID, persistence.LogInfo, "project_created", "Created placeholder project for incoming feedback", nil)
	return p, nil
}

// CloseProject is the out-of-band human close. It is allowed from every state that has
// closed in its transition list.
func (c *Controller) CloseProject(_ context.Context, projectID string) (*persistence.Project, error) {
	p, status, err := c.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if err := c.transition("close project", p, status, StatusClosed); err != nil {
		return nil, err
	}
	return p, nil
}

// CoderStatus summarizes a project's progress for the dashboard.
//
//nolint:govet // Logical grouping preferred over memory optimization
type CoderStatus struct {
	ProjectID   string                      `json:"project_id"`
	Status      Status                      `json:"status"`
	CurrentStep string                      `json:"current_step,omitempty"`
	Progress    float64                     `json:"progress"`
	PRURL       string                      `json:"github_pr_url,omitempty"`
	Failure     string                      `json:"failure_reason,omitempty"`
	Logs        []*persistence.ExecutionLog `json:"logs"`
	Usage       *metrics.ProjectUsage       `json:"usage,omitempty"`
}

// CoderStatus reports status, progress and the most recent execution logs, newest
// first. LLM usage is included when a usage source is configured and reachable.
func (c *Controller) CoderStatus(ctx context.Context, projectID string) (*CoderStatus, error) {
	p, status, err := c.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	logs, err := c.store.ListExecutionLogs(p.ID, coderStatusLogs)
	if err != nil {
		return nil, fmt.Errorf("load execution logs: %w", err)
	}

	newestFirst := make([]*persistence.ExecutionLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, logs[i])
	}

	st := &CoderStatus{
		ProjectID: p.ID,
		Status:    status,
		Progress:  status.Progress(),
		PRURL:     p.PRURL,
		Failure:   p.FailureReason,
		Logs:      newestFirst,
	}
	for _, entry := range newestFirst {
		if entry.StepName != "" {
			st.CurrentStep = entry.StepName
			break
		}
	}

	if c.usage != nil {
		usage, err := c.usage.GetProjectUsage(ctx, p.ID)
		if err != nil {
			c.logger.Debug("Usage query for %s failed: %v", p.ID, err)
		} else {
			st.Usage = usage
		}
	}
	return st, nil
}
