package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxFeedbackListLimit caps feedback listing.
const MaxFeedbackListLimit = 500

// InsertFeedback writes a finalized feedback record.
func (ops *DatabaseOperations) InsertFeedback(rec *FeedbackRecord) error {
	if strings.TrimSpace(rec.Summary) == "" {
		return fmt.Errorf("feedback summary is required")
	}
	if rec.ID == "" {
		rec.ID = GenerateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ops.now()
	}
	_, err := ops.db.Exec(`INSERT INTO feedback (id, identity, summary, transcript, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Identity, rec.Summary, nullString(rec.Transcript), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert feedback for %s: %w", rec.Identity, err)
	}
	return nil
}

func (ops *DatabaseOperations) queryFeedback(query string, args ...any) ([]*FeedbackRecord, error) {
	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*FeedbackRecord
	for rows.Next() {
		var (
			rec        FeedbackRecord
			transcript sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.Identity, &rec.Summary, &transcript, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		rec.Transcript = transcript.String
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return records, nil
}

// ListFeedback returns the newest feedback records. limit is clamped to 1..MaxFeedbackListLimit.
func (ops *DatabaseOperations) ListFeedback(limit int) ([]*FeedbackRecord, error) {
	if limit <= 0 || limit > MaxFeedbackListLimit {
		limit = MaxFeedbackListLimit
	}
	return ops.queryFeedback(`SELECT id, identity, summary, transcript, created_at FROM feedback
		ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListFeedbackByIdentity returns every record from one sender, newest first.
func (ops *DatabaseOperations) ListFeedbackByIdentity(identity string) ([]*FeedbackRecord, error) {
	return ops.queryFeedback(`SELECT id, identity, summary, transcript, created_at FROM feedback
		WHERE identity = ? ORDER BY created_at DESC`, identity)
}

// GetFeedback returns one feedback record.
func (ops *DatabaseOperations) GetFeedback(id string) (*FeedbackRecord, error) {
	records, err := ops.queryFeedback(`SELECT id, identity, summary, transcript, created_at FROM feedback WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	return records[0], nil
}

// AppendExecutionLog writes one execution log row for a project.
func (ops *DatabaseOperations) AppendExecutionLog(entry *ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = GenerateID()
	}
	if entry.Level == "" {
		entry.Level = LogInfo
	}
	if !IsValidLogLevel(entry.Level) {
		return fmt.Errorf("invalid log level %q", entry.Level)
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode log metadata: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = ops.now()
	}

	_, err = ops.db.Exec(`INSERT INTO execution_logs (id, project_id, log_level, step_name, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ProjectID, string(entry.Level), nullString(entry.StepName), entry.Message,
		string(metadata), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert execution log for %s: %w", entry.ProjectID, err)
	}
	return nil
}

// ListExecutionLogs returns a project's logs oldest first. A positive limit keeps only
// the most recent rows.
func (ops *DatabaseOperations) ListExecutionLogs(projectID string, limit int) ([]*ExecutionLog, error) {
	query := `SELECT id, project_id, log_level, step_name, message, metadata, created_at FROM (
		SELECT rowid AS seq, * FROM execution_logs WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += `) ORDER BY created_at ASC, seq ASC`

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*ExecutionLog
	for rows.Next() {
		var (
			entry            ExecutionLog
			level, createdAt string
			stepName         sql.NullString
			metadata         string
		)
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &level, &stepName, &entry.Message, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		entry.Level = LogLevel(level)
		entry.StepName = stepName.String
		entry.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
			entry.Metadata = map[string]any{"raw": metadata}
		}
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution logs: %w", err)
	}
	return logs, nil
}
