package github

import (
	"context"
	"fmt"
	"strings"
)

// DeleteBranch deletes a remote branch. A branch that no longer exists is not an error.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	if branch == "" || branch == DefaultBranch {
		return fmt.Errorf("refusing to delete branch %q", branch)
	}

	endpoint := fmt.Sprintf("/repos/%s/git/refs/heads/%s", c.RepoPath(), branch)
	if _, err := c.APIDelete(ctx, endpoint); err != nil {
		if strings.Contains(err.Error(), "Reference does not exist") || strings.Contains(err.Error(), "(HTTP 404)") {
			c.logger.Debug("Branch %s already gone from %s", branch, c.RepoPath())
			return nil
		}
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	c.logger.Info("Deleted branch %s from %s", branch, c.RepoPath())
	return nil
}
