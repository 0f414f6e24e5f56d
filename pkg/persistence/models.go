package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Project status values as stored in the status column. The lifecycle package owns the
// transition rules; persistence only enforces the stored vocabulary.
const (
	StatusPending      = "pending"
	StatusPlanning     = "planning"
	StatusProvisioning = "provisioning"
	StatusExecuting    = "executing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusClosed       = "closed"
)

// Ticket types.
const (
	TicketBug         = "bug"
	TicketFeature     = "feature"
	TicketEnhancement = "enhancement"
	TicketQuestion    = "question"
)

// LogLevel is the severity of an execution log row.
type LogLevel string

// Execution log levels.
const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogDebug   LogLevel = "debug"
)

// IsValidLogLevel reports whether l is one of the stored levels.
func IsValidLogLevel(l LogLevel) bool {
	switch l {
	case LogInfo, LogWarning, LogError, LogDebug:
		return true
	default:
		return false
	}
}

// IsValidTicketType reports whether t is one of the stored ticket types.
func IsValidTicketType(t string) bool {
	switch t {
	case TicketBug, TicketFeature, TicketEnhancement, TicketQuestion:
		return true
	default:
		return false
	}
}

// RepoConfig describes a target repository and its automation flags.
type RepoConfig struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ID               string    `json:"id"`
	Owner            string    `json:"github_owner"`
	Repo             string    `json:"github_repo"`
	Branch           string    `json:"github_branch"`
	GitHubToken      string    `json:"-"`
	TestCommand      string    `json:"test_command,omitempty"`
	BuildCommand     string    `json:"build_command,omitempty"`
	LintCommand      string    `json:"lint_command,omitempty"`
	AutoCreateIssues bool      `json:"auto_create_issues"`
	AutoCreatePRs    bool      `json:"auto_create_prs"`
}

// FullName returns owner/repo.
func (r *RepoConfig) FullName() string {
	return r.Owner + "/" + r.Repo
}

// Project is a ticket moving through the lifecycle.
//
//nolint:govet // field order follows the table
type Project struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ID               string    `json:"id"`
	RepoConfigID     string    `json:"repo_config_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	TicketType       string    `json:"ticket_type"`
	Status           string    `json:"status"`
	PlanID           string    `json:"plan_id,omitempty"`
	IssueURL         string    `json:"github_issue_url,omitempty"`
	PRURL            string    `json:"github_pr_url,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	SourceFeedbackID string    `json:"source_feedback_id,omitempty"`
	IssueNumber      int       `json:"github_issue_number,omitempty"`
	PRNumber         int       `json:"github_pr_number,omitempty"`
	SeverityScore    int       `json:"severity_score"`
}

// HasIssue reports whether an issue reference is attached.
func (p *Project) HasIssue() bool {
	return p.IssueNumber != 0
}

// Plan is an implementation outline for a project.
type Plan struct {
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Version    int        `json:"version"`
	Approved   bool       `json:"approved"`
}

// ExecutionLog is one step record for a project.
type ExecutionLog struct {
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Level     LogLevel       `json:"log_level"`
	StepName  string         `json:"step_name,omitempty"`
	Message   string         `json:"message"`
}

// FeedbackRecord is a finalized feedback summary. Immutable once written.
type FeedbackRecord struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	Summary    string    `json:"summary"`
	Transcript string    `json:"transcript,omitempty"`
}

// ConversationTurn is one stored message of a conversation.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateID returns a new random row id.
func GenerateID() string {
	return uuid.New().String()
}
