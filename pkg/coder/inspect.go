package coder

import (
	"context"
	"fmt"

	"ticketsmith/pkg/forge"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/workspace"
)

// InspectRepo shallow-clones the base branch and returns the detected repository context.
// The clone is never pushed and is removed before returning.
func (a *Agent) InspectRepo(ctx context.Context, client forge.Client, repo *persistence.RepoConfig) (*RepoContext, error) {
	base := repo.Branch
	if base == "" {
		base = "main"
	}
	clone, err := workspace.CreateTempClone(ctx, workspace.CloneOptions{
		URL:      client.CloneURL(),
		Base:     base,
		Branch:   workspace.BranchName("inspect"),
		WorkDir:  a.cfg.WorkDir,
		Timeout:  a.cfg.CloneTimeout,
		Executor: a.executor,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", client.RepoPath(), err)
	}
	defer clone.Cleanup()

	rc := DetectRepoContext(clone.Path, Commands{
		Test:  repo.TestCommand,
		Build: repo.BuildCommand,
		Lint:  repo.LintCommand,
	})
	rc.loadInstructions(clone.Path, a.logger)
	return &rc, nil
}
