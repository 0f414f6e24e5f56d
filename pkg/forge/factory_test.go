package forge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ target Target }

func (s *stubClient) Provider() Provider { return "stub" }
func (s *stubClient) RepoPath() string   { return s.target.Owner + "/" + s.target.Repo }
func (s *stubClient) CloneURL() string   { return "" }
func (s *stubClient) CreateIssue(context.Context, IssueCreateOptions) (*Issue, error) {
	return &Issue{}, nil
}
func (s *stubClient) CreatePR(context.Context, PRCreateOptions) (*PullRequest, error) {
	return &PullRequest{}, nil
}
func (s *stubClient) DeleteBranch(context.Context, string) error { return nil }

func TestNewClient(t *testing.T) {
	Register("stub", func(target Target) (Client, error) {
		return &stubClient{target: target}, nil
	})

	client, err := NewClient("stub", Target{Owner: "acme", Repo: "web"})
	require.NoError(t, err)
	assert.Equal(t, "acme/web", client.RepoPath())

	_, err = NewClient("stub", Target{Owner: "acme"})
	assert.Error(t, err, "repo is required")

	_, err = NewClient("nope", Target{Owner: "a", Repo: "b"})
	assert.ErrorContains(t, err, "not registered")
}
