package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	llmmetrics "ticketsmith/pkg/agent/middleware/metrics"
	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/planner"
)

// planWritableStatuses are the statuses in which plan content may be generated.
//
//nolint:gochecknoglobals // static lookup table
var planWritableStatuses = []string{string(StatusPending), string(StatusPlanning)}

// GeneratePlan produces the project's plan with one inference call. Calling it again while
// the project is planning replaces the active plan's content and bumps its version.
func (c *Controller) GeneratePlan(ctx context.Context, projectID string) (*persistence.Plan, error) {
	const op = "generate plan"

	p, status, err := c.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if status != StatusPending && status != StatusPlanning {
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: status}
	}

	repo, client, err := c.repoAndForge(p)
	if err != nil {
		return nil, err
	}

	ctx = llmmetrics.WithProject(ctx, p.ID)
	c.record(p.ID, persistence.LogInfo, "generate_plan", "Plan generation started", nil)
	content, err := c.planner.GeneratePlan(ctx, &planner.PlanInput{
		Title:       p.Title,
		Description: p.Description,
		Owner:       repo.Owner,
		Repo:        repo.Repo,
		Branch:      repo.Branch,
		Context:     c.inspect(ctx, p.ID, client, repo),
	})
	if err != nil {
		c.record(p.ID, persistence.LogError, "generate_plan", "Plan generation failed: "+err.Error(), nil)
		return nil, &TransientCollaboratorError{Op: op, Err: err}
	}

	plan, created, err := c.store.UpsertActivePlan(p.ID, planWritableStatuses, "Plan: "+p.Title, content)
	if err != nil {
		var conflict *persistence.StatusConflictError
		if errors.As(err, &conflict) {
			c.record(p.ID, persistence.LogWarning, "generate_plan",
				fmt.Sprintf("Generated plan discarded: project moved to %s", conflict.Observed), nil)
			return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: Status(conflict.Observed),
				Reason: "project changed while the plan was generated"}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verb := "Superseded"
	if created {
		verb = "Created"
	}
	c.record(p.ID, persistence.LogInfo, "generate_plan", fmt.Sprintf("%s plan (version %d)", verb, plan.Version),
		map[string]any{"plan_id": plan.ID, "version": plan.Version})

	if status == StatusPending {
		if err := c.transition(op, p, StatusPending, StatusPlanning); err != nil {
			var pe *PreconditionError
			// A concurrent generation already advanced the project.
			if !errors.As(err, &pe) || pe.Observed != StatusPlanning {
				return nil, err
			}
		}
	}
	return plan, nil
}

// BuildOutcome is the result of ApprovePlan.
//
//nolint:govet // Logical grouping preferred over memory optimization
type BuildOutcome struct {
	Project  *persistence.Project `json:"project"`
	Plan     *persistence.Plan    `json:"plan"`
	PRNumber int                  `json:"github_pr_number,omitempty"`
	PRURL    string               `json:"github_pr_url,omitempty"`
	Result   *coder.BuildResult   `json:"result,omitempty"`
}

// ApprovePlan stores the approved plan content and runs the coding agent synchronously.
// The project ends completed with its pull request, or failed with the reason. A failed
// project can be retried by approving its plan again.
func (c *Controller) ApprovePlan(ctx context.Context, planID, content string) (*BuildOutcome, error) {
	const op = "approve plan"

	plan, err := c.store.GetPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	p, status, err := c.loadProject(plan.ProjectID)
	if err != nil {
		return nil, err
	}
	if p.PlanID != plan.ID {
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: status, Reason: "plan has been superseded"}
	}
	if status != StatusPlanning && status != StatusProvisioning && status != StatusFailed {
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: status}
	}
	if !p.HasIssue() {
		return nil, &PreconditionError{ProjectID: p.ID, Op: op, Observed: status, Reason: "project has no issue; approve the project first"}
	}

	if strings.TrimSpace(content) == "" {
		content = plan.Content
	}

	if status != StatusProvisioning {
		if err := c.transition(op, p, status, StatusProvisioning); err != nil {
			var pe *PreconditionError
			if !errors.As(err, &pe) || pe.Observed != StatusProvisioning {
				return nil, err
			}
		}
	}
	// Exactly one caller wins the build.
	if err := c.transition(op, p, StatusProvisioning, StatusExecuting); err != nil {
		return nil, err
	}
	if err := c.store.ResetBuildOutcome(p.ID); err != nil {
		c.logger.Warn("Failed to clear previous build outcome on %s: %v", p.ID, err)
	}

	// Only the build winner writes the approved content, so the stored plan is the one built.
	start := time.Now()
	approved, err := c.store.ApprovePlan(plan.ID, content, string(StatusExecuting))
	if err != nil {
		err = fmt.Errorf("%s: store approved plan: %w", op, err)
		c.failBuild(ctx, p, err, time.Since(start))
		return &BuildOutcome{Project: c.reload(p), Plan: plan}, err
	}
	c.record(p.ID, persistence.LogInfo, "plan_approval", fmt.Sprintf("Plan version %d approved", approved.Version),
		map[string]any{"plan_id": approved.ID})

	outcome := &BuildOutcome{Project: p, Plan: approved}
	result, err := c.runBuild(ctx, p, approved)
	if err != nil {
		c.failBuild(ctx, p, err, time.Since(start))
		outcome.Project = c.reload(p)
		return outcome, err
	}

	outcome.Result = result
	outcome.PRNumber, outcome.PRURL = result.PRNumber, result.PRURL
	if err := retryWrite(func() (bool, error) { return c.store.CompleteBuild(p.ID, result.PRNumber, result.PRURL) }); err != nil {
		c.record(p.ID, persistence.LogError, "store_pr",
			fmt.Sprintf("PR #%d (%s) was opened but could not be stored: %v", result.PRNumber, result.PRURL, err), nil)
		outcome.Project = c.reload(p)
		return outcome, &PersistenceError{
			Err:       err,
			ProjectID: p.ID,
			Op:        "store pull request",
			Detail:    fmt.Sprintf("pull request #%d %s was opened", result.PRNumber, result.PRURL),
		}
	}

	c.metrics.Transition(string(StatusExecuting), string(StatusCompleted))
	c.metrics.BuildFinished(metrics.BuildCompleted, result.Duration)
	c.record(p.ID, persistence.LogInfo, "build_completed", fmt.Sprintf("Opened PR #%d", result.PRNumber),
		map[string]any{"pr_number": result.PRNumber, "pr_url": result.PRURL, "draft": result.Draft, "rounds": result.Rounds})
	c.notify(ctx, fmt.Sprintf("PR #%d opened for %q: %s", result.PRNumber, p.Title, result.PRURL))

	outcome.Project = c.reload(p)
	return outcome, nil
}

// runBuild invokes the coding agent and classifies its failure.
func (c *Controller) runBuild(ctx context.Context, p *persistence.Project, plan *persistence.Plan) (*coder.BuildResult, error) {
	repo, client, err := c.repoAndForge(p)
	if err != nil {
		return nil, err
	}

	c.record(p.ID, persistence.LogInfo, "build_started", "Plan approved, starting coding agent", nil)
	result, err := c.builder.RunBuild(llmmetrics.WithProject(ctx, p.ID), &coder.BuildRequest{
		ProjectID:   p.ID,
		Title:       p.Title,
		Description: p.Description,
		IssueNumber: p.IssueNumber,
		PlanContent: plan.Content,
		Repo:        *repo,
		Forge:       client,
		Progress:    c.progressFor(p.ID),
	})
	if err != nil {
		if coder.IsExhausted(err) {
			return nil, err
		}
		return nil, &TransientCollaboratorError{Op: "build", Err: err}
	}
	return result, nil
}

// failBuild records the failure on an executing project.
func (c *Controller) failBuild(ctx context.Context, p *persistence.Project, cause error, elapsed time.Duration) {
	reason := cause.Error()
	outcome := metrics.BuildFailed
	if coder.IsExhausted(cause) {
		outcome = metrics.BuildExhausted
	}
	c.metrics.BuildFinished(outcome, elapsed)

	if err := retryWrite(func() (bool, error) { return c.store.FailBuild(p.ID, reason) }); err != nil {
		c.record(p.ID, persistence.LogError, "build_failed",
			fmt.Sprintf("Build failed (%s) and the failure could not be stored: %v", reason, err), nil)
	} else {
		c.metrics.Transition(string(StatusExecuting), string(StatusFailed))
		c.record(p.ID, persistence.LogError, "build_failed", reason, map[string]any{"outcome": outcome})
	}
	c.notify(ctx, fmt.Sprintf("Build failed for %q: %s", p.Title, reason))
}

func (c *Controller) reload(p *persistence.Project) *persistence.Project {
	fresh, err := c.store.GetProject(p.ID)
	if err != nil {
		return p
	}
	return fresh
}
