package task

import "time"

// Merge strategy tags reported in Metadata.MergeStrategy.
const (
	MergeStrategyError  = "error"
	MergeSingle         = "single"
	MergeAllSuccess     = "all-success"
	MergePartialSuccess = "partial-success"
)

// Processing modes reported in Metadata.Mode.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// DefaultConfidence is assumed for results that carry no confidence.
const DefaultConfidence = 0.5

// MicrotaskSummary is the per-microtask outcome attached to a merged result.
type MicrotaskSummary struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	AgentType string        `json:"agent_type"`
	AgentID   string        `json:"agent_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// Metadata annotates a TaskResult with how it was produced.
type Metadata struct {
	Mode           string             `json:"mode,omitempty"`
	MergeStrategy  string             `json:"merge_strategy,omitempty"`
	AgentCount     int                `json:"agent_count,omitempty"`
	MicrotaskCount int                `json:"microtask_count,omitempty"`
	SuccessCount   int                `json:"success_count,omitempty"`
	FailureCount   int                `json:"failure_count,omitempty"`
	Consensus      *float64           `json:"consensus,omitempty"`
	Attempts       int                `json:"attempts,omitempty"`
	Microtasks     []MicrotaskSummary `json:"microtasks,omitempty"`
}

// TaskResult is the outcome of executing one Task or Microtask.
// A failed result always carries a non-empty Error.
type TaskResult struct {
	TaskID      string        `json:"task_id,omitempty"`
	MicrotaskID string        `json:"microtask_id,omitempty"`
	Success     bool          `json:"success"`
	Content     Content       `json:"content"`
	Error       string        `json:"error,omitempty"`
	Confidence  *float64      `json:"confidence,omitempty"`
	Duration    time.Duration `json:"duration"`
	AgentID     string        `json:"agent_id,omitempty"`
	Metadata    Metadata      `json:"metadata"`
}

// ConfidenceOr returns the result's confidence, or def when absent.
func (r TaskResult) ConfidenceOr(def float64) float64 {
	if r.Confidence == nil {
		return def
	}
	return *r.Confidence
}

// Failure builds a failed result.
func Failure(err error) TaskResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return TaskResult{Success: false, Error: msg}
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
