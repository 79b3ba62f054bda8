package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicMicrotask = "microtask"
	TopicPool      = "pool"
)

// Event type constants
const (
	EventTypeTaskSubmitted      = "task.submitted"
	EventTypeTaskDecomposed     = "task.decomposed"
	EventTypeTaskFinished       = "task.finished"
	EventTypeMicrotaskDispatch  = "microtask.dispatched"
	EventTypeMicrotaskCompleted = "microtask.completed"
	EventTypeMicrotaskFailed    = "microtask.failed"
	EventTypeProgress           = "microtask.progress"
	EventTypePoolStatus         = "pool.status"
)

// TaskSubmittedEvent is published when the processor accepts a task.
type TaskSubmittedEvent struct {
	ID         string
	Mode       string // parallel or sequential
	Complexity int
	Timestamp  time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) TaskID() string    { return e.ID }

// MicrotaskInfo describes one microtask in a TaskDecomposedEvent.
type MicrotaskInfo struct {
	ID           string
	Type         string
	AgentType    string
	Dependencies []string
}

// TaskDecomposedEvent carries the microtask plan of a task.
type TaskDecomposedEvent struct {
	ID         string
	Microtasks []MicrotaskInfo
	Timestamp  time.Time
}

func (e TaskDecomposedEvent) EventType() string { return EventTypeTaskDecomposed }
func (e TaskDecomposedEvent) TaskID() string    { return e.ID }

// TaskFinishedEvent is published once the merged result is ready.
type TaskFinishedEvent struct {
	ID            string
	Success       bool
	MergeStrategy string
	Confidence    float64
	Err           string
	Duration      time.Duration
	Timestamp     time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskID() string    { return e.ID }

// MicrotaskDispatchedEvent is published when an agent is leased for an attempt.
type MicrotaskDispatchedEvent struct {
	Task        string
	MicrotaskID string
	AgentID     string
	Attempt     int
	Timestamp   time.Time
}

func (e MicrotaskDispatchedEvent) EventType() string { return EventTypeMicrotaskDispatch }
func (e MicrotaskDispatchedEvent) TaskID() string    { return e.Task }

// MicrotaskCompletedEvent is published when an attempt succeeds.
type MicrotaskCompletedEvent struct {
	Task        string
	MicrotaskID string
	AgentID     string
	Attempt     int
	Duration    time.Duration
	Timestamp   time.Time
}

func (e MicrotaskCompletedEvent) EventType() string { return EventTypeMicrotaskCompleted }
func (e MicrotaskCompletedEvent) TaskID() string    { return e.Task }

// MicrotaskFailedEvent is published when an attempt fails. Retrying is false
// once the retry budget is spent and the microtask is terminally failed.
type MicrotaskFailedEvent struct {
	Task        string
	MicrotaskID string
	AgentID     string
	Attempt     int
	Err         error
	Timeout     bool
	Retrying    bool
	Timestamp   time.Time
}

func (e MicrotaskFailedEvent) EventType() string { return EventTypeMicrotaskFailed }
func (e MicrotaskFailedEvent) TaskID() string    { return e.Task }

// ProgressEvent is published when the microtask graph of a task changes state.
type ProgressEvent struct {
	Task      string
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return e.Task }

// PoolStatusEvent is published on pool status or size changes.
type PoolStatusEvent struct {
	AgentType string
	Status    string
	Size      int
	Timestamp time.Time
}

func (e PoolStatusEvent) EventType() string { return EventTypePoolStatus }
func (e PoolStatusEvent) TaskID() string    { return "" }
