// Package github adapts pkg/github.Client to the forge.Client interface.
package github

import (
	"context"

	"ticketsmith/pkg/forge"
	"ticketsmith/pkg/github"
)

func init() { //nolint:gochecknoinits // registers the provider with the forge factory
	forge.Register(forge.ProviderGitHub, func(target forge.Target) (forge.Client, error) {
		return NewClient(github.NewClient(target.Owner, target.Repo, target.Token)), nil
	})
}

// Client adapts github.Client to implement forge.Client.
type Client struct {
	ghClient *github.Client
}

// NewClient creates a new GitHub forge client from a github.Client.
func NewClient(ghClient *github.Client) *Client {
	return &Client{ghClient: ghClient}
}

// Provider returns the forge provider type.
func (c *Client) Provider() forge.Provider {
	return forge.ProviderGitHub
}

// RepoPath returns the owner/repo path.
func (c *Client) RepoPath() string {
	return c.ghClient.RepoPath()
}

// CloneURL returns the authenticated HTTPS clone URL.
func (c *Client) CloneURL() string {
	return c.ghClient.CloneURL()
}

// CreateIssue files a new issue.
func (c *Client) CreateIssue(ctx context.Context, opts forge.IssueCreateOptions) (*forge.Issue, error) {
	issue, err := c.ghClient.CreateIssue(ctx, github.IssueCreateOptions{
		Title:  opts.Title,
		Body:   opts.Body,
		Labels: opts.Labels,
	})
	if err != nil {
		return nil, err
	}
	return &forge.Issue{Number: issue.Number, URL: issue.URL}, nil
}

// CreatePR opens a pull request.
func (c *Client) CreatePR(ctx context.Context, opts forge.PRCreateOptions) (*forge.PullRequest, error) {
	pr, err := c.ghClient.CreatePR(ctx, github.PRCreateOptions{
		Title: opts.Title,
		Body:  opts.Body,
		Head:  opts.Head,
		Base:  opts.Base,
		Draft: opts.Draft,
	})
	if err != nil {
		return nil, err
	}
	return &forge.PullRequest{Number: pr.Number, URL: pr.URL, Draft: pr.Draft}, nil
}

// DeleteBranch removes a remote branch.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	return c.ghClient.DeleteBranch(ctx, branch)
}

var _ forge.Client = (*Client)(nil)
