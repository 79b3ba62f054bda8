package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		complexity INTEGER NOT NULL,
		priority TEXT NOT NULL,
		mode TEXT NOT NULL,
		merge_strategy TEXT NOT NULL,
		success INTEGER NOT NULL,
		confidence REAL,
		error TEXT NOT NULL,
		agent_count INTEGER NOT NULL,
		microtask_count INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		result TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions(submitted_at);

	CREATE TABLE IF NOT EXISTS microtask_results (
		task_id TEXT NOT NULL,
		microtask_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		PRIMARY KEY (task_id, microtask_id),
		FOREIGN KEY (task_id) REFERENCES submissions(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
