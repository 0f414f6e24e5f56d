// Package exec runs commands for the coding agent and git plumbing.
package exec

import (
	"context"
	"time"
)

// ExecutorType represents the type of executor.
type ExecutorType string

// ExecutorTypeLocal runs commands as child processes of ticketsmith.
const ExecutorTypeLocal ExecutorType = "local"

// Executor runs a command and reports its output. A non-zero exit code is not an error;
// callers read Result.ExitCode.
type Executor interface {
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor type name for logging/debugging.
	Name() ExecutorType

	// Available returns true if this executor can be used in the current environment.
	Available() bool
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains extra environment variables (KEY=VALUE) layered over the process environment.
	Env []string

	// Timeout is the maximum duration for command execution. Zero means no limit beyond ctx.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string

	// Stdin is fed to the command when non-empty.
	Stdin string
}

// Result contains the result of command execution.
type Result struct {
	Stdout       string
	Stderr       string
	ExecutorUsed string
	Duration     time.Duration
	ExitCode     int

	// TimedOut is set when Opts.Timeout expired before the command exited.
	TimedOut bool
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// DefaultExecOpts returns default execution options.
func DefaultExecOpts() Opts {
	return Opts{Timeout: 5 * time.Minute}
}
