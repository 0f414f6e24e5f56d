// Package github provides GitHub operations for ticketsmith using the gh CLI.
// Issues, pull requests and branch deletion are pure API calls and run on the host.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	execpkg "ticketsmith/pkg/exec"
	"ticketsmith/pkg/logx"
)

// DefaultBranch is the default target branch for operations.
const DefaultBranch = "main"

// Client provides GitHub API operations via the gh CLI.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Client struct {
	owner    string
	repo     string
	token    string
	executor execpkg.Executor
	logger   *logx.Logger
	timeout  time.Duration
}

// NewClient creates a new GitHub client for the specified repository.
// An empty token leaves gh to its own authentication (gh auth login, GH_TOKEN).
func NewClient(owner, repo, token string) *Client {
	return &Client{
		owner:    owner,
		repo:     repo,
		token:    token,
		executor: execpkg.NewLocalExec(),
		logger:   logx.NewLogger("github"),
		timeout:  30 * time.Second,
	}
}

// NewClientFromRemote creates a GitHub client by parsing a git remote URL.
func NewClientFromRemote(remoteURL, token string) (*Client, error) {
	owner, repo, err := ParseGitHubURL(remoteURL)
	if err != nil {
		return nil, err
	}
	return NewClient(owner, repo, token), nil
}

// WithTimeout returns a new client with the specified timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	clone := *c
	clone.timeout = timeout
	return &clone
}

// WithExecutor returns a new client that runs gh through executor.
func (c *Client) WithExecutor(executor execpkg.Executor) *Client {
	clone := *c
	clone.executor = executor
	return &clone
}

// Owner returns the repository owner.
func (c *Client) Owner() string {
	return c.owner
}

// Repo returns the repository name.
func (c *Client) Repo() string {
	return c.repo
}

// RepoPath returns the owner/repo path.
func (c *Client) RepoPath() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// CloneURL returns the HTTPS clone URL. The token is embedded when one is configured
// so that clone and push work without a credential helper.
func (c *Client) CloneURL() string {
	if c.token == "" {
		return fmt.Sprintf("https://github.com/%s.git", c.RepoPath())
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", c.token, c.RepoPath())
}

// Token returns the token used for gh and git calls.
func (c *Client) Token() string {
	return c.token
}

// API executes a GitHub API call and returns the raw response.
func (c *Client) API(ctx context.Context, method, endpoint string, fields map[string]any) ([]byte, error) {
	args := []string{"api", "-X", method, endpoint}

	for key, value := range fields {
		switch v := value.(type) {
		case bool:
			args = append(args, "-F", fmt.Sprintf("%s=%t", key, v))
		case int, int64:
			args = append(args, "-F", fmt.Sprintf("%s=%d", key, v))
		default:
			args = append(args, "-f", fmt.Sprintf("%s=%v", key, v))
		}
	}

	return c.run(ctx, args...)
}

// APIDelete executes a DELETE request to the GitHub API.
func (c *Client) APIDelete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.API(ctx, "DELETE", endpoint, nil)
}

// run executes a gh command and returns its stdout.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	c.logger.Debug("Executing: gh %s", strings.Join(args, " "))

	opts := &execpkg.Opts{Timeout: c.timeout}
	if c.token != "" {
		opts.Env = []string{"GH_TOKEN=" + c.token}
	}

	result, err := c.executor.Run(ctx, append([]string{"gh"}, args...), opts)
	if err != nil {
		return nil, fmt.Errorf("gh command failed: %w", err)
	}
	if result.TimedOut {
		return nil, fmt.Errorf("gh command timed out after %s", c.timeout)
	}
	if result.ExitCode != 0 {
		c.logger.Debug("Command failed: exit %d, output: %s", result.ExitCode, result.Combined())
		return nil, fmt.Errorf("gh command failed: exit status %d\nOutput: %s", result.ExitCode, result.Combined())
	}

	return []byte(result.Stdout), nil
}

// runJSON executes a gh command and unmarshals the JSON response.
func (c *Client) runJSON(ctx context.Context, result any, args ...string) error {
	output, err := c.run(ctx, args...)
	if err != nil {
		return err
	}

	if len(output) == 0 {
		return nil
	}

	if err := json.Unmarshal(output, result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// ParseGitHubURL extracts owner and repo from various GitHub URL formats.
func ParseGitHubURL(url string) (owner, repo string, err error) {
	var path string
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		path = strings.TrimPrefix(url, "git@github.com:")
	case strings.HasPrefix(url, "https://github.com/"):
		path = strings.TrimPrefix(url, "https://github.com/")
	default:
		return "", "", fmt.Errorf("unsupported Git URL format: %s", url)
	}

	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub URL format: %s", url)
	}
	return parts[0], parts[1], nil
}

// CheckAuth verifies that the gh CLI is installed and authenticated.
func (c *Client) CheckAuth(ctx context.Context) error {
	if _, err := c.run(ctx, "auth", "status"); err != nil {
		return fmt.Errorf("gh auth check failed: %w", err)
	}
	return nil
}
