package github

import (
	"context"
	"fmt"
	"time"
)

// PullRequest is a created GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	State  string `json:"state"` // OPEN, CLOSED, MERGED
	Draft  bool   `json:"isDraft"`
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch (default: main)
	Draft bool
}

// GetPR retrieves a pull request by number, URL or branch name.
func (c *Client) GetPR(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{
		"pr", "view", ref,
		"--repo", c.RepoPath(),
		"--json", "number,url,title,state,isDraft",
	}

	var pr PullRequest
	if err := c.runJSON(ctx, &pr, args...); err != nil {
		return nil, fmt.Errorf("failed to get PR %s: %w", ref, err)
	}

	return &pr, nil
}

// CreatePR creates a new pull request and returns its number and URL.
func (c *Client) CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	base := opts.Base
	if base == "" {
		base = DefaultBranch
	}

	args := []string{
		"pr", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
		"--head", opts.Head,
		"--base", base,
		"--body", opts.Body,
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	// PR creation waits on GitHub computing the diff.
	client := c.WithTimeout(2 * time.Minute)
	output, err := client.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}

	prURL := lastLine(string(output))
	if prURL == "" {
		return nil, fmt.Errorf("PR created but no URL returned")
	}
	number, err := NumberFromURL(prURL)
	if err != nil {
		return nil, fmt.Errorf("PR created but response was not understood: %w", err)
	}

	c.logger.Info("Opened PR #%d %s -> %s on %s", number, opts.Head, base, c.RepoPath())
	return &PullRequest{
		Number: number,
		URL:    prURL,
		Title:  opts.Title,
		State:  "OPEN",
		Draft:  opts.Draft,
	}, nil
}
