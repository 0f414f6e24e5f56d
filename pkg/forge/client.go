// Package forge abstracts the git hosting provider used to file issues and open pull requests.
package forge

import (
	"context"
)

// Provider represents a git hosting provider type.
type Provider string

// ProviderGitHub is currently the only supported provider.
const ProviderGitHub Provider = "github"

// Issue is a reference to a created issue.
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

// PullRequest is a reference to an opened pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Draft  bool   `json:"draft"`
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	// Title is required.
	Title string

	// Body is the PR description.
	Body string

	// Head is the source branch (required).
	Head string

	// Base is the target branch (defaults to "main").
	Base string

	// Draft creates the PR as a draft.
	Draft bool
}

// Client defines the forge operations ticketsmith needs for one repository.
type Client interface {
	// Provider returns the forge provider type.
	Provider() Provider

	// RepoPath returns the owner/repo path.
	RepoPath() string

	// CloneURL returns a URL git can clone from and push to.
	CloneURL() string

	// CreateIssue files a new issue.
	CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error)

	// CreatePR opens a pull request.
	CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error)

	// DeleteBranch removes a remote branch.
	DeleteBranch(ctx context.Context, branch string) error
}
