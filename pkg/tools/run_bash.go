package tools

import (
	"context"
	"fmt"
	"time"

	execpkg "ticketsmith/pkg/exec"
)

// RunBashTool runs a shell command in the workspace. Non-zero exits are returned as data.
type RunBashTool struct {
	executor      execpkg.Executor
	workspaceRoot string
	timeout       time.Duration
	outputBudget  int
	redactor      *Redactor
	env           []string
}

// RunBashOptions configures NewRunBashTool.
type RunBashOptions struct {
	Timeout      time.Duration
	OutputBudget int // bytes of combined output echoed to the model
	Redactor     *Redactor
	Env          []string
}

// NewRunBashTool creates a new run_bash tool.
func NewRunBashTool(executor execpkg.Executor, workspaceRoot string, opts RunBashOptions) *RunBashTool {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.OutputBudget <= 0 {
		opts.OutputBudget = 8192
	}
	return &RunBashTool{
		executor:      executor,
		workspaceRoot: workspaceRoot,
		timeout:       opts.Timeout,
		outputBudget:  opts.OutputBudget,
		redactor:      opts.Redactor,
		env:           opts.Env,
	}
}

// Name returns the tool name.
func (t *RunBashTool) Name() string {
	return ToolRunBash
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *RunBashTool) PromptDocumentation() string {
	return fmt.Sprintf(`- **run_bash** - Run a shell command from the repository root
  - Parameters:
    - command (string, REQUIRED): command passed to sh -c
  - Returns stdout, stderr and exit_code; a non-zero exit_code is not fatal
  - Output longer than %d bytes keeps only its beginning and end
  - Commands are killed after %s`, t.outputBudget, t.timeout)
}

// Definition returns the tool definition for LLM.
func (t *RunBashTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolRunBash,
		Description: "Run a shell command from the repository root. Use it to search code, list files, build and run tests.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "Shell command to execute with sh -c",
				},
			},
			Required: []string{"command"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *RunBashTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return errorResult("command is required and must be a string")
	}

	result, err := t.executor.Run(ctx, []string{"sh", "-c", command}, &execpkg.Opts{
		WorkDir: t.workspaceRoot,
		Timeout: t.timeout,
		Env:     t.env,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run_bash interrupted: %w", err)
		}
		return errorResult(fmt.Sprintf("command could not be started: %v", err))
	}

	// Split the budget so a noisy stderr cannot starve stdout entirely.
	stdoutBudget, stderrBudget := t.outputBudget, t.outputBudget/4
	if result.Stderr != "" {
		stdoutBudget = t.outputBudget - stderrBudget
	}

	payload := map[string]any{
		"success":   result.ExitCode == 0 && !result.TimedOut,
		"command":   t.redactor.Redact(command),
		"exit_code": result.ExitCode,
		"stdout":    SanitizeOutput(result.Stdout, t.redactor, stdoutBudget),
		"stderr":    SanitizeOutput(result.Stderr, t.redactor, stderrBudget),
	}
	if result.TimedOut {
		payload["timed_out"] = true
		payload["error"] = fmt.Sprintf("command timed out after %s", t.timeout)
	}
	return jsonResult(payload)
}
