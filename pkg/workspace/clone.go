// Package workspace manages the throwaway git clones the coding agent works in.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	execpkg "ticketsmith/pkg/exec"
	"ticketsmith/pkg/logx"
)

// CloneOptions configures a temporary clone.
//
//nolint:govet // Logical grouping preferred over memory optimization
type CloneOptions struct {
	// URL is the remote to clone from and push to. It may embed credentials.
	URL string
	// Base is the branch to clone and later target with the pull request.
	Base string
	// Branch is the working branch created on top of Base.
	Branch string
	// WorkDir is the parent directory for the clone (default: os.TempDir()).
	WorkDir string
	// UserName and UserEmail are set as the clone's git identity.
	UserName  string
	UserEmail string
	// Timeout bounds each git command (default: 5 minutes).
	Timeout time.Duration
	// Executor runs git (default: local exec).
	Executor execpkg.Executor
	// Logger for clone operations (optional).
	Logger *logx.Logger
}

// Clone is a working copy on its own branch. Call Cleanup when done.
type Clone struct {
	Path   string
	Base   string
	Branch string

	remote   string
	timeout  time.Duration
	executor execpkg.Executor
	logger   *logx.Logger
	cleanup  sync.Once
}

// BranchName returns a fresh working branch name for a project: fix/issue-<id8>-<rand4>.
func BranchName(projectID string) string {
	id := strings.ReplaceAll(projectID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "adhoc"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("fix/issue-%s-%s", id, suffix)
}

// CreateTempClone shallow-clones opts.Base into a fresh directory and checks out opts.Branch.
// On error nothing is left on disk.
func CreateTempClone(ctx context.Context, opts CloneOptions) (*Clone, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("clone URL is required")
	}
	if opts.Base == "" {
		opts.Base = "main"
	}
	if opts.Branch == "" {
		return nil, fmt.Errorf("working branch is required")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Executor == nil {
		opts.Executor = execpkg.NewLocalExec()
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("workspace")
	}

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	tempDir, err := os.MkdirTemp(opts.WorkDir, "ticketsmith-clone-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	c := &Clone{
		Path:     tempDir,
		Base:     opts.Base,
		Branch:   opts.Branch,
		remote:   opts.URL,
		timeout:  opts.Timeout,
		executor: opts.Executor,
		logger:   opts.Logger,
	}

	opts.Logger.Info("Cloning %s (%s) into %s", RedactURL(opts.URL), opts.Base, tempDir)
	if _, err := c.git(ctx, "", "clone", "--depth", "1", "--branch", opts.Base, opts.URL, tempDir); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to clone: %w", err)
	}

	steps := [][]string{
		{"config", "user.name", opts.UserName},
		{"config", "user.email", opts.UserEmail},
		{"checkout", "-b", opts.Branch},
	}
	for _, args := range steps {
		if args[0] == "config" && args[2] == "" {
			continue
		}
		if _, err := c.Git(ctx, args...); err != nil {
			c.Cleanup()
			return nil, err
		}
	}

	return c, nil
}

// Git runs a git command inside the clone and returns its stdout.
func (c *Clone) Git(ctx context.Context, args ...string) (string, error) {
	return c.git(ctx, c.Path, args...)
}

func (c *Clone) git(ctx context.Context, dir string, args ...string) (string, error) {
	result, err := c.executor.Run(ctx, append([]string{"git"}, args...), &execpkg.Opts{
		WorkDir: dir,
		Timeout: c.timeout,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	})
	label := c.redact(strings.Join(args, " "))
	if err != nil {
		return "", fmt.Errorf("git %s: %w", label, err)
	}
	if result.TimedOut {
		return "", fmt.Errorf("git %s: timed out after %s", label, c.timeout)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s: exit status %d\nOutput: %s", label, result.ExitCode, c.redact(result.Combined()))
	}
	return result.Stdout, nil
}

// ChangedFiles lists paths with uncommitted changes, including untracked files.
func (c *Clone) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := c.Git(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files, nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (c *Clone) HasChanges(ctx context.Context) (bool, error) {
	files, err := c.ChangedFiles(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// CommitAll stages every change and commits it.
func (c *Clone) CommitAll(ctx context.Context, message string) error {
	if _, err := c.Git(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := c.Git(ctx, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// Push publishes the working branch to the remote.
func (c *Clone) Push(ctx context.Context) error {
	if _, err := c.Git(ctx, "push", "-u", "origin", c.Branch); err != nil {
		return fmt.Errorf("push rejected: %w", err)
	}
	c.logger.Info("Pushed %s", c.Branch)
	return nil
}

// Cleanup removes the clone directory. It is safe to call more than once.
func (c *Clone) Cleanup() {
	c.cleanup.Do(func() {
		c.logger.Debug("Cleaning up temp clone: %s", c.Path)
		if err := os.RemoveAll(c.Path); err != nil {
			c.logger.Warn("Failed to clean up temp clone: %v", err)
		}
	})
}

// Abs returns the absolute path of a file inside the clone.
func (c *Clone) Abs(rel string) string {
	return filepath.Join(c.Path, rel)
}

func (c *Clone) redact(s string) string {
	if c.remote == "" {
		return s
	}
	return strings.ReplaceAll(s, c.remote, RedactURL(c.remote))
}

// RedactURL hides any credentials embedded in a remote URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("REDACTED")
	return u.String()
}
