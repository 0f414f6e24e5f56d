package coder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/toolloop"
	"ticketsmith/pkg/config"
	execpkg "ticketsmith/pkg/exec"
	"ticketsmith/pkg/forge"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/tools"
	"ticketsmith/pkg/workspace"
)

// ProgressFunc receives one record per build step. The lifecycle controller stores
// them as execution logs.
type ProgressFunc func(level persistence.LogLevel, step, message string, metadata map[string]any)

// BuildRequest is everything one build attempt needs.
//
//nolint:govet // Logical grouping preferred over memory optimization
type BuildRequest struct {
	ProjectID   string
	Title       string
	Description string
	IssueNumber int
	PlanContent string

	Repo  persistence.RepoConfig
	Forge forge.Client

	// Progress is optional.
	Progress ProgressFunc
}

// BuildResult describes a delivered pull request.
//
//nolint:govet // Logical grouping preferred over memory optimization
type BuildResult struct {
	PRNumber       int           `json:"pr_number"`
	PRURL          string        `json:"pr_url"`
	Draft          bool          `json:"draft"`
	Branch         string        `json:"branch"`
	Summary        string        `json:"summary"`
	ChangedFiles   []string      `json:"changed_files"`
	Rounds         int           `json:"rounds"`
	MaxRounds      int           `json:"max_rounds"`
	StoppedAtLimit bool          `json:"stopped_at_limit"`
	Verification   *Verification `json:"verification,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Agent runs builds. It is safe for concurrent use; every build gets its own clone.
type Agent struct {
	client   llm.LLMClient
	executor execpkg.Executor
	cfg      config.CoderConfig
	logger   *logx.Logger
}

// NewAgent creates a coding agent. A nil executor runs commands locally.
func NewAgent(client llm.LLMClient, executor execpkg.Executor, cfg config.CoderConfig) *Agent {
	if executor == nil {
		executor = execpkg.NewLocalExec()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = config.DefaultMaxRounds
	}
	if cfg.BashOutputBytes <= 0 {
		cfg.BashOutputBytes = config.DefaultBashOutputBytes
	}
	if cfg.ReadFileBytes <= 0 {
		cfg.ReadFileBytes = config.DefaultReadFileBytes
	}
	if cfg.TranscriptTokens <= 0 {
		cfg.TranscriptTokens = config.DefaultTranscriptTokens
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = config.DefaultCommandTimeout
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = config.DefaultCloneTimeout
	}
	return &Agent{
		client:   client,
		executor: executor,
		cfg:      cfg,
		logger:   logx.NewLogger("coder"),
	}
}

// MaxRounds returns the round ceiling of every build.
func (a *Agent) MaxRounds() int {
	return a.cfg.MaxRounds
}

// RunBuild clones, runs the tool loop and delivers a pull request.
// It returns *AgentExhaustedError when the attempt produced nothing to deliver.
func (a *Agent) RunBuild(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	if req.Forge == nil {
		return nil, fmt.Errorf("build request has no forge client")
	}
	if req.PlanContent == "" {
		return nil, fmt.Errorf("build request has no plan content")
	}

	start := time.Now()
	logger := a.logger.With(shortID(req.ProjectID))
	progress := func(level persistence.LogLevel, step, message string, metadata map[string]any) {
		if req.Progress != nil {
			req.Progress(level, step, message, metadata)
		}
	}

	base := req.Repo.Branch
	if base == "" {
		base = "main"
	}
	branch := workspace.BranchName(req.ProjectID)

	progress(persistence.LogInfo, "clone_repo", fmt.Sprintf("Cloning %s (%s) onto branch %s", req.Forge.RepoPath(), base, branch), nil)
	clone, err := workspace.CreateTempClone(ctx, workspace.CloneOptions{
		URL:       req.Forge.CloneURL(),
		Base:      base,
		Branch:    branch,
		WorkDir:   a.cfg.WorkDir,
		UserName:  a.cfg.GitUserName,
		UserEmail: a.cfg.GitUserEmail,
		Timeout:   a.cfg.CloneTimeout,
		Executor:  a.executor,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", req.Forge.RepoPath(), err)
	}
	defer func() {
		clone.Cleanup()
		progress(persistence.LogDebug, "cleanup", "Removed working clone", nil)
	}()

	rc := DetectRepoContext(clone.Path, Commands{
		Test:  req.Repo.TestCommand,
		Build: req.Repo.BuildCommand,
		Lint:  req.Repo.LintCommand,
	})
	rc.loadInstructions(clone.Path, logger)
	progress(persistence.LogInfo, "detect_context", fmt.Sprintf("Detected %s repository (%d files)", rc.Language, rc.TotalFiles), map[string]any{
		"language":       rc.Language,
		"test_framework": rc.TestFramework,
		"build_system":   rc.BuildSystem,
	})

	redactor := tools.NewRedactor(req.Repo.GitHubToken, config.GetGitHubToken())
	provider := tools.NewProvider(
		tools.NewReadFileTool(clone.Path, a.cfg.ReadFileBytes),
		tools.NewWriteFileTool(clone.Path),
		tools.NewRunBashTool(a.executor, clone.Path, tools.RunBashOptions{
			Timeout:      a.cfg.CommandTimeout,
			OutputBudget: a.cfg.BashOutputBytes,
			Redactor:     redactor,
			Env:          []string{"CI=1", "GIT_TERMINAL_PROMPT=0"},
		}),
		tools.NewDoneTool(),
	)

	progress(persistence.LogInfo, "implement", fmt.Sprintf("Running coding agent (max %d rounds)", a.cfg.MaxRounds), nil)
	loop := toolloop.New(a.client, logger)
	outcome := loop.Run(ctx, &toolloop.Config{
		SystemPrompt:     systemPrompt,
		InitialPrompt:    BuildPrompt(req, &rc, provider, a.cfg.MaxRounds),
		ToolProvider:     provider,
		MaxRounds:        a.cfg.MaxRounds,
		MaxTokens:        config.DefaultCoderMaxTokens,
		Temperature:      llm.TemperatureDeterministic,
		TranscriptTokens: a.cfg.TranscriptTokens,
		OnStep: func(step toolloop.Step) {
			if step.Call == nil {
				progress(persistence.LogDebug, "agent_round", fmt.Sprintf("Round %d: no tool call", step.Round), nil)
				return
			}
			progress(persistence.LogDebug, "agent_round", fmt.Sprintf("Round %d: %s", step.Round, step.Call.Name),
				map[string]any{"round": step.Round, "tool": step.Call.Name})
		},
	})

	res := &BuildResult{
		Branch:    branch,
		Rounds:    outcome.Rounds,
		MaxRounds: a.cfg.MaxRounds,
		Summary:   outcome.Summary(),
	}

	switch outcome.Kind {
	case toolloop.OutcomeSuccess:
	case toolloop.OutcomeIterationLimit:
		res.StoppedAtLimit = true
	default:
		return nil, fmt.Errorf("coding agent: %w", outcome.Err)
	}

	changed, err := clone.ChangedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect changes: %w", err)
	}
	if len(changed) == 0 {
		reason := ReasonNoChanges
		if res.StoppedAtLimit {
			reason = ReasonStepLimit
		}
		return nil, &AgentExhaustedError{Reason: reason, Rounds: outcome.Rounds}
	}
	res.ChangedFiles = changed
	if res.StoppedAtLimit {
		progress(persistence.LogWarning, "agent_limit", fmt.Sprintf("Step limit reached with %d changed files; delivering partial work", len(changed)), nil)
	} else {
		progress(persistence.LogInfo, "agent_done", res.Summary, map[string]any{"rounds": outcome.Rounds, "files": changed})
	}

	if cmd := req.Repo.TestCommand; cmd != "" && !res.StoppedAtLimit {
		res.Verification = a.verify(ctx, clone.Path, cmd, redactor)
		level := persistence.LogInfo
		if !res.Verification.Passed() {
			level = persistence.LogWarning
		}
		progress(level, "verify", fmt.Sprintf("Test command exited %d", res.Verification.ExitCode), map[string]any{
			"command":   cmd,
			"exit_code": res.Verification.ExitCode,
		})
	}

	progress(persistence.LogInfo, "commit_changes", fmt.Sprintf("Committing %d files", len(changed)), nil)
	if err := clone.CommitAll(ctx, commitMessage(req)); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	progress(persistence.LogInfo, "push_branch", "Pushing "+branch, nil)
	if err := clone.Push(ctx); err != nil {
		return nil, err
	}

	res.Draft = !req.Repo.AutoCreatePRs
	progress(persistence.LogInfo, "create_pr", "Opening pull request", map[string]any{"draft": res.Draft})
	pr, err := req.Forge.CreatePR(ctx, forge.PRCreateOptions{
		Title: prTitle(req.Title),
		Body:  prBody(req, res),
		Head:  branch,
		Base:  base,
		Draft: res.Draft,
	})
	if err != nil {
		a.deleteBranch(ctx, req.Forge, branch, logger)
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	res.PRNumber = pr.Number
	res.PRURL = pr.URL
	res.Duration = time.Since(start)
	logger.Info("✅ Delivered PR #%d (%s) in %s", pr.Number, pr.URL, res.Duration.Round(time.Second))
	return res, nil
}

// verify runs the test command once; its result is informational.
func (a *Agent) verify(ctx context.Context, dir, command string, redactor *tools.Redactor) *Verification {
	result, err := a.executor.Run(ctx, []string{"sh", "-c", command}, &execpkg.Opts{
		WorkDir: dir,
		Timeout: a.cfg.CommandTimeout,
		Env:     []string{"CI=1"},
	})
	if err != nil {
		return &Verification{Command: command, ExitCode: -1, Output: err.Error()}
	}
	return &Verification{
		Command:  command,
		ExitCode: result.ExitCode,
		TimedOut: result.TimedOut,
		Output:   tools.SanitizeOutput(result.Combined(), redactor, verificationBytes),
	}
}

// deleteBranch removes a pushed branch whose PR could not be opened. Best effort.
func (a *Agent) deleteBranch(ctx context.Context, client forge.Client, branch string, logger *logx.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := client.DeleteBranch(cleanupCtx, branch); err != nil {
		logger.Warn("Failed to delete orphaned branch %s: %v", branch, err)
	}
}

// IsExhausted reports whether err is an AgentExhaustedError.
func IsExhausted(err error) bool {
	var exhausted *AgentExhaustedError
	return errors.As(err, &exhausted)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "adhoc"
	}
	return id
}
