// Package lifecycle drives a project from pending through issue creation, planning and
// plan approval to a delivered pull request. Every status change is a compare-and-set
// against the stored status, validated against a single transition table.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/forge"
	_ "ticketsmith/pkg/forge/github" // registers the GitHub provider used by DefaultForge
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/planner"
)

// Store is the durable state the controller reads and guards.
type Store interface {
	GetRepoConfig(id string) (*persistence.RepoConfig, error)
	CreateProject(p *persistence.Project) error
	GetProject(id string) (*persistence.Project, error)
	GetActiveProject(repoConfigID string) (*persistence.Project, error)
	CompareAndSetStatus(id, expected, next string) (bool, error)
	ClaimIssue(id, token string) (bool, error)
	ReleaseIssueClaim(id, token string) error
	SetIssueRef(id string, number int, url string) (bool, error)
	UpsertActivePlan(projectID string, allowed []string, title, content string) (*persistence.Plan, bool, error)
	GetPlan(id string) (*persistence.Plan, error)
	ApprovePlan(id, content, projectStatus string) (*persistence.Plan, error)
	ResetBuildOutcome(id string) error
	CompleteBuild(id string, prNumber int, prURL string) (bool, error)
	FailBuild(id, reason string) (bool, error)
	GetFeedback(id string) (*persistence.FeedbackRecord, error)
	AppendExecutionLog(entry *persistence.ExecutionLog) error
	ListExecutionLogs(projectID string, limit int) ([]*persistence.ExecutionLog, error)
}

// Planner writes plans and issue text.
type Planner interface {
	GeneratePlan(ctx context.Context, in *planner.PlanInput) (string, error)
	EnrichIssue(ctx context.Context, in planner.IssueText, rc *coder.RepoContext) planner.IssueText
	VerifyFormatting(ctx context.Context, in planner.IssueText) planner.IssueText
	Classify(ctx context.Context, summary string) planner.Classification
}

// Builder runs one coding agent attempt.
type Builder interface {
	RunBuild(ctx context.Context, req *coder.BuildRequest) (*coder.BuildResult, error)
}

// RepoInspector detects repository context for prompts. Optional.
type RepoInspector interface {
	InspectRepo(ctx context.Context, client forge.Client, repo *persistence.RepoConfig) (*coder.RepoContext, error)
}

// Notifier sends a short message to the operator. Optional.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// UsageSource reports LLM usage per project. Optional.
type UsageSource interface {
	GetProjectUsage(ctx context.Context, projectID string) (*metrics.ProjectUsage, error)
}

// ForgeResolver returns the forge client for a repository configuration.
type ForgeResolver func(repo *persistence.RepoConfig) (forge.Client, error)

// DefaultForge resolves GitHub clients. The repository's own token wins over the
// process-wide one.
func DefaultForge(repo *persistence.RepoConfig) (forge.Client, error) {
	token := repo.GitHubToken
	if token == "" {
		token = config.GetGitHubToken()
	}
	client, err := forge.NewClient(forge.ProviderGitHub, forge.Target{Owner: repo.Owner, Repo: repo.Repo, Token: token})
	if err != nil {
		return nil, fmt.Errorf("forge for %s: %w", repo.FullName(), err)
	}
	return client, nil
}

// Options wires a Controller. Store, Planner and Builder are required.
type Options struct {
	Store     Store
	Planner   Planner
	Builder   Builder
	Forge     ForgeResolver
	Inspector RepoInspector
	Notifier  Notifier
	Usage     UsageSource
	Metrics   *metrics.Lifecycle
}

// Controller owns project state transitions.
type Controller struct {
	store     Store
	planner   Planner
	builder   Builder
	forge     ForgeResolver
	inspector RepoInspector
	notifier  Notifier
	usage     UsageSource
	metrics   *metrics.Lifecycle
	logger    *logx.Logger
}

// NewController validates opts and returns a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Planner == nil || opts.Builder == nil {
		return nil, fmt.Errorf("lifecycle controller requires a store, a planner and a builder")
	}
	if opts.Forge == nil {
		opts.Forge = DefaultForge
	}
	return &Controller{
		store:     opts.Store,
		planner:   opts.Planner,
		builder:   opts.Builder,
		forge:     opts.Forge,
		inspector: opts.Inspector,
		notifier:  opts.Notifier,
		usage:     opts.Usage,
		metrics:   opts.Metrics,
		logger:    logx.NewLogger("lifecycle"),
	}, nil
}

// loadProject returns the project and its parsed status.
func (c *Controller) loadProject(id string) (*persistence.Project, Status, error) {
	p, err := c.store.GetProject(id)
	if err != nil {
		return nil, "", fmt.Errorf("load project: %w", err)
	}
	st, err := ParseStatus(p.Status)
	if err != nil {
		return nil, "", err
	}
	return p, st, nil
}

// transition moves a project from -> to with a compare-and-set. A lost race is reported
// as a PreconditionError carrying the status that was actually observed.
func (c *Controller) transition(op string, p *persistence.Project, from, to Status) error {
	if !CanTransition(from, to) {
		return &PreconditionError{ProjectID: p.ID, Op: op, Observed: from,
			Reason: fmt.Sprintf("transition %s -> %s is not allowed", from, to)}
	}
	ok, err := c.store.CompareAndSetStatus(p.ID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		observed := from
		if current, getErr := c.store.GetProject(p.ID); getErr == nil {
			observed = Status(current.Status)
		}
		return &PreconditionError{ProjectID: p.ID, Op: op, Observed: observed, Reason: ReasonInProgress}
	}

	p.Status = string(to)
	c.metrics.Transition(string(from), string(to))
	c.record(p.ID, persistence.LogInfo, "status_change", fmt.Sprintf("Status %s -> %s", from, to),
		map[string]any{"from": string(from), "to": string(to)})
	return nil
}

// record writes an execution log row. A failed write is only logged.
func (c *Controller) record(projectID string, level persistence.LogLevel, step, message string, metadata map[string]any) {
	entry := &persistence.ExecutionLog{
		ProjectID: projectID,
		Level:     level,
		StepName:  step,
		Message:   message,
		Metadata:  metadata,
	}
	if err := c.store.AppendExecutionLog(entry); err != nil {
		c.logger.Warn("Failed to write execution log %s/%s: %v", projectID, step, err)
	}
	switch level {
	case persistence.LogError:
		c.logger.Error("[%s] %s: %s", shortID(projectID), step, message)
	case persistence.LogWarning:
		c.logger.Warn("[%s] %s: %s", shortID(projectID), step, message)
	case persistence.LogDebug:
		c.logger.Debug("[%s] %s: %s", shortID(projectID), step, message)
	default:
		c.logger.Info("[%s] %s: %s", shortID(projectID), step, message)
	}
}

// progressFor adapts build progress callbacks to execution logs.
func (c *Controller) progressFor(projectID string) coder.ProgressFunc {
	return func(level persistence.LogLevel, step, message string, metadata map[string]any) {
		c.record(projectID, level, step, message, metadata)
	}
}

// notify sends an operator message, best effort.
func (c *Controller) notify(ctx context.Context, message string) {
	if c.notifier == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := c.notifier.Send(sendCtx, message); err != nil {
		c.logger.Warn("Notification failed: %v", err)
	}
}

// repoAndForge loads the repository configuration of p and its forge client.
func (c *Controller) repoAndForge(p *persistence.Project) (*persistence.RepoConfig, forge.Client, error) {
	repo, err := c.store.GetRepoConfig(p.RepoConfigID)
	if err != nil {
		return nil, nil, fmt.Errorf("load repo config: %w", err)
	}
	client, err := c.forge(repo)
	if err != nil {
		return nil, nil, err
	}
	return repo, client, nil
}

// inspect returns repository context when an inspector is configured. Failures degrade
// to no context.
func (c *Controller) inspect(ctx context.Context, projectID string, client forge.Client, repo *persistence.RepoConfig) *coder.RepoContext {
	if c.inspector == nil {
		return nil
	}
	rc, err := c.inspector.InspectRepo(ctx, client, repo)
	if err != nil {
		c.record(projectID, persistence.LogWarning, "detect_context", "Repository context unavailable: "+err.Error(), nil)
		return nil
	}
	c.record(projectID, persistence.LogInfo, "detect_context",
		fmt.Sprintf("Detected %s repository (%d files)", rc.Language, rc.TotalFiles), nil)
	return rc
}

// retryWrite runs write twice, the second time after a short pause, and reports the
// last failure.
func retryWrite(write func() (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		ok, err := write()
		if err == nil && ok {
			return nil
		}
		if err == nil {
			err = errors.New("guarded update matched no row")
		}
		lastErr = err
	}
	return lastErr
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
