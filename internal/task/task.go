package task

import (
	"fmt"
	"time"
)

// Priority orders tasks for dispatch. The zero value is treated as normal.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Urgent reports whether the priority is high or critical.
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Valid reports whether p is a known priority (empty counts as normal).
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

const (
	MinComplexity = 1
	MaxComplexity = 10
)

// Split is a caller-supplied decomposition step, used by the manual strategy.
// DependsOn references the Key of other splits of the same task.
type Split struct {
	Key       string   `json:"key"`
	Type      string   `json:"type,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
	Content   string   `json:"content"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Task is a unit of work submitted by a caller.
type Task struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Content    string            `json:"content"`
	Complexity int               `json:"complexity"`
	Priority   Priority          `json:"priority,omitempty"`
	Deadline   time.Time         `json:"deadline,omitzero"`
	Splits     []Split           `json:"splits,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the invariants a task must hold before it is processed.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if t.Complexity < MinComplexity || t.Complexity > MaxComplexity {
		return fmt.Errorf("task %q: complexity %d outside [%d,%d]", t.ID, t.Complexity, MinComplexity, MaxComplexity)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %q: unknown priority %q", t.ID, t.Priority)
	}
	return nil
}

// HasDeadline reports whether a task-level deadline is set.
func (t Task) HasDeadline() bool {
	return !t.Deadline.IsZero()
}

// MicrotaskStatus is the lifecycle state of a single microtask.
type MicrotaskStatus int

const (
	MicrotaskPending    MicrotaskStatus = iota // Waiting for dependencies or a retry
	MicrotaskDispatched                        // Agent selected, not yet executing
	MicrotaskRunning                           // Agent is executing
	MicrotaskCompleted                         // Finished successfully
	MicrotaskTimedOut                          // Attempt exceeded its timeout
	MicrotaskFailed                            // Terminal failure, retries exhausted
)

func (s MicrotaskStatus) String() string {
	switch s {
	case MicrotaskPending:
		return "pending"
	case MicrotaskDispatched:
		return "dispatched"
	case MicrotaskRunning:
		return "running"
	case MicrotaskCompleted:
		return "completed"
	case MicrotaskTimedOut:
		return "timed-out"
	case MicrotaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempts will be made.
func (s MicrotaskStatus) Terminal() bool {
	return s == MicrotaskCompleted || s == MicrotaskFailed
}

// Microtask is an independently dispatchable sub-unit of a Task.
type Microtask struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	Index        int           `json:"index"` // Submission order within the task
	Type         string        `json:"type"`
	AgentType    string        `json:"agent_type"`
	Content      string        `json:"content"`
	Priority     Priority      `json:"priority,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Timeout      time.Duration `json:"timeout"`
	Attempt      int           `json:"attempt"`            // 1-based, set per dispatch
	Upstream     []TaskResult  `json:"upstream,omitempty"` // Results of Dependencies, set at dispatch
}
