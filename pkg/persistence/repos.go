package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

const repoColumns = `id, github_owner, github_repo, github_branch, auto_create_issues, auto_create_prs,
	github_token, test_command, build_command, lint_command, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepoConfig(row rowScanner) (*RepoConfig, error) {
	var (
		rc                       RepoConfig
		token, test, build, lint sql.NullString
		createdAt, updatedAt     string
		autoIssues, autoPRs      bool
	)
	if err := row.Scan(&rc.ID, &rc.Owner, &rc.Repo, &rc.Branch, &autoIssues, &autoPRs,
		&token, &test, &build, &lint, &createdAt, &updatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	rc.AutoCreateIssues = autoIssues
	rc.AutoCreatePRs = autoPRs
	rc.GitHubToken = token.String
	rc.TestCommand = test.String
	rc.BuildCommand = build.String
	rc.LintCommand = lint.String
	rc.CreatedAt = parseTime(createdAt)
	rc.UpdatedAt = parseTime(updatedAt)
	return &rc, nil
}

// CreateRepoConfig inserts a repository configuration, assigning an id when empty.
func (ops *DatabaseOperations) CreateRepoConfig(rc *RepoConfig) error {
	if rc.Owner == "" || rc.Repo == "" {
		return fmt.Errorf("repo config requires owner and repo")
	}
	if rc.ID == "" {
		rc.ID = GenerateID()
	}
	if rc.Branch == "" {
		rc.Branch = "main"
	}
	now := ops.now()
	rc.CreatedAt, rc.UpdatedAt = now, now

	_, err := ops.db.Exec(`INSERT INTO repo_configs (`+repoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.Owner, rc.Repo, rc.Branch, rc.AutoCreateIssues, rc.AutoCreatePRs,
		nullString(rc.GitHubToken), nullString(rc.TestCommand), nullString(rc.BuildCommand), nullString(rc.LintCommand),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert repo config %s: %w", rc.FullName(), err)
	}
	return nil
}

// GetRepoConfig returns the repository configuration with the given id.
func (ops *DatabaseOperations) GetRepoConfig(id string) (*RepoConfig, error) {
	rc, err := scanRepoConfig(ops.db.QueryRow(`SELECT `+repoColumns+` FROM repo_configs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repo config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo config %s: %w", id, err)
	}
	return rc, nil
}

// ListRepoConfigs returns every repository configuration, newest first.
func (ops *DatabaseOperations) ListRepoConfigs() ([]*RepoConfig, error) {
	rows, err := ops.db.Query(`SELECT ` + repoColumns + ` FROM repo_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []*RepoConfig
	for rows.Next() {
		rc, err := scanRepoConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repo config: %w", err)
		}
		configs = append(configs, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repo configs: %w", err)
	}
	return configs, nil
}
