package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/parallel-agents/internal/task"
)

// Submission is the stored record of one processed task.
type Submission struct {
	TaskID         string
	Type           string
	Content        string
	Complexity     int
	Priority       task.Priority
	Mode           string
	MergeStrategy  string
	Success        bool
	Confidence     *float64
	Error          string
	AgentCount     int
	MicrotaskCount int
	Attempts       int
	Duration       time.Duration
	Result         task.Content
	SubmittedAt    time.Time
	Microtasks     []task.MicrotaskSummary
}

// NewSubmission builds the record of t and its merged result.
func NewSubmission(t task.Task, r task.TaskResult, submittedAt time.Time) Submission {
	return Submission{
		TaskID:         t.ID,
		Type:           t.Type,
		Content:        t.Content,
		Complexity:     t.Complexity,
		Priority:       t.Priority,
		Mode:           r.Metadata.Mode,
		MergeStrategy:  r.Metadata.MergeStrategy,
		Success:        r.Success,
		Confidence:     r.Confidence,
		Error:          r.Error,
		AgentCount:     r.Metadata.AgentCount,
		MicrotaskCount: r.Metadata.MicrotaskCount,
		Attempts:       r.Metadata.Attempts,
		Duration:       r.Duration,
		Result:         r.Content,
		SubmittedAt:    submittedAt,
		Microtasks:     append([]task.MicrotaskSummary(nil), r.Metadata.Microtasks...),
	}
}

// SaveSubmission saves or replaces a submission and its microtask rows.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub Submission) error {
	if sub.TaskID == "" {
		return errors.New("submission task id is empty")
	}
	result, err := json.Marshal(sub.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var confidence sql.NullFloat64
	if sub.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *sub.Confidence, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (id, type, content, complexity, priority, mode, merge_strategy, success,
			confidence, error, agent_count, microtask_count, attempts, duration_ns, result, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			complexity = excluded.complexity,
			priority = excluded.priority,
			mode = excluded.mode,
			merge_strategy = excluded.merge_strategy,
			success = excluded.success,
			confidence = excluded.confidence,
			error = excluded.error,
			agent_count = excluded.agent_count,
			microtask_count = excluded.microtask_count,
			attempts = excluded.attempts,
			duration_ns = excluded.duration_ns,
			result = excluded.result,
			submitted_at = excluded.submitted_at
	`, sub.TaskID, sub.Type, sub.Content, sub.Complexity, string(sub.Priority), sub.Mode, sub.MergeStrategy,
		boolInt(sub.Success), confidence, sub.Error, sub.AgentCount, sub.MicrotaskCount, sub.Attempts,
		int64(sub.Duration), string(result), sub.SubmittedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM microtask_results WHERE task_id = ?`, sub.TaskID); err != nil {
		return fmt.Errorf("failed to delete old microtask results: %w", err)
	}

	for i, mt := range sub.Microtasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO microtask_results (task_id, microtask_id, position, type, agent_type, agent_id,
				success, error, attempts, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sub.TaskID, mt.ID, i, mt.Type, mt.AgentType, mt.AgentID, boolInt(mt.Success), mt.Error, mt.Attempts, int64(mt.Duration))
		if err != nil {
			return fmt.Errorf("failed to insert microtask result %s: %w", mt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeLayout is fixed-width so submitted_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const submissionColumns = `id, type, content, complexity, priority, mode, merge_strategy, success,
	confidence, error, agent_count, microtask_count, attempts, duration_ns, result, submitted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub         Submission
		priority    string
		success     int
		confidence  sql.NullFloat64
		durationNs  int64
		result      string
		submittedAt string
	)
	err := row.Scan(&sub.TaskID, &sub.Type, &sub.Content, &sub.Complexity, &priority, &sub.Mode, &sub.MergeStrategy,
		&success, &confidence, &sub.Error, &sub.AgentCount, &sub.MicrotaskCount, &sub.Attempts, &durationNs,
		&result, &submittedAt)
	if err != nil {
		return nil, err
	}

	sub.Priority = task.Priority(priority)
	sub.Success = success != 0
	if confidence.Valid {
		sub.Confidence = task.Float(confidence.Float64)
	}
	sub.Duration = time.Duration(durationNs)
	if err := json.Unmarshal([]byte(result), &sub.Result); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", sub.TaskID, err)
	}
	sub.SubmittedAt, err = time.Parse(timeLayout, submittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse submitted_at of %s: %w", sub.TaskID, err)
	}
	return &sub, nil
}

// GetSubmission retrieves a submission and its microtask rows.
func (s *SQLiteStore) GetSubmission(ctx context.Context, taskID string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, taskID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}

	sub.Microtasks, err = s.microtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns the most recent submissions first. A limit of
// zero or less returns all of them. Microtask rows are not loaded.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		ORDER BY submitted_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) microtasks(ctx context.Context, taskID string) ([]task.MicrotaskSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT microtask_id, type, agent_type, agent_id, success, error, attempts, duration_ns
		FROM microtask_results
		WHERE task_id = ?
		ORDER BY position
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query microtask results: %w", err)
	}
	defer rows.Close()

	var out []task.MicrotaskSummary
	for rows.Next() {
		var (
			mt         task.MicrotaskSummary
			success    int
			durationNs int64
		)
		if err := rows.Scan(&mt.ID, &mt.Type, &mt.AgentType, &mt.AgentID, &success, &mt.Error, &mt.Attempts, &durationNs); err != nil {
			return nil, fmt.Errorf("failed to scan microtask result: %w", err)
		}
		mt.Success = success != 0
		mt.Duration = time.Duration(durationNs)
		out = append(out, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating microtask results: %w", err)
	}
	return out, nil
}

// DeleteSubmission removes a submission; its microtask rows cascade.
func (s *SQLiteStore) DeleteSubmission(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
