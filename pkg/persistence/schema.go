package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the cross-process conversation store tables.
func migrateToVersion2(db *sql.DB) error {
	for _, ddl := range conversationTables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", ddl, err)
		}
	}
	return nil
}

//nolint:gochecknoglobals // DDL shared by createSchema and migrations
var conversationTables = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user','assistant')),
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_identity ON conversation_turns(identity, id)`,
	`CREATE TABLE IF NOT EXISTS conversation_leases (
		identity TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS repo_configs (
			id TEXT PRIMARY KEY,
			github_owner TEXT NOT NULL,
			github_repo TEXT NOT NULL,
			github_branch TEXT NOT NULL DEFAULT 'main',
			auto_create_issues INTEGER NOT NULL DEFAULT 0,
			auto_create_prs INTEGER NOT NULL DEFAULT 0,
			github_token TEXT,
			test_command TEXT,
			build_command TEXT,
			lint_command TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			repo_config_id TEXT NOT NULL REFERENCES repo_configs(id),
			title TEXT NOT NULL,
			description TEXT,
			ticket_type TEXT NOT NULL DEFAULT 'feature' CHECK (ticket_type IN ('bug','feature','enhancement','question')),
			severity_score INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','planning','provisioning','executing','completed','failed','closed')),
			plan_id TEXT,
			issue_claim TEXT,
			github_issue_number INTEGER,
			github_issue_url TEXT,
			github_pr_number INTEGER,
			github_pr_url TEXT,
			failure_reason TEXT,
			source_feedback_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			approved_at TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			superseded INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			log_level TEXT NOT NULL DEFAULT 'info' CHECK (log_level IN ('info','warning','error','debug')),
			step_name TEXT,
			message TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			summary TEXT NOT NULL,
			transcript TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	tables = append(tables, conversationTables...)

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_projects_repo ON projects(repo_config_id)",
		"CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)",
		// At most one non-superseded plan per project
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_active ON plans(project_id) WHERE superseded = 0",
		"CREATE INDEX IF NOT EXISTS idx_execution_logs_project ON execution_logs(project_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_feedback_identity ON feedback(identity)",
		"CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
