package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Issue is a created GitHub issue.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// IssueCreateOptions contains options for creating an issue.
type IssueCreateOptions struct {
	Title  string
	Body   string
	Labels []string
}

// CreateIssue opens an issue. gh prints the issue URL, which carries the number.
func (c *Client) CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	args := []string{
		"issue", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
		"--body", opts.Body,
	}
	for _, label := range opts.Labels {
		if label != "" {
			args = append(args, "--label", label)
		}
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	issueURL := lastLine(string(output))
	number, err := NumberFromURL(issueURL)
	if err != nil {
		return nil, fmt.Errorf("issue created but response was not understood: %w", err)
	}

	c.logger.Info("Created issue #%d on %s", number, c.RepoPath())
	return &Issue{Number: number, URL: issueURL}, nil
}

// NumberFromURL extracts the trailing number of an issue or pull request URL,
// e.g. https://github.com/o/r/issues/12 or https://github.com/o/r/pull/7.
func NumberFromURL(u string) (int, error) {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	idx := strings.LastIndex(u, "/")
	if idx < 0 || idx == len(u)-1 {
		return 0, fmt.Errorf("no number in URL %q", u)
	}
	n, err := strconv.Atoi(u[idx+1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("no number in URL %q", u)
	}
	return n, nil
}

// lastLine returns the last non-empty line; gh may print warnings before the URL.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
