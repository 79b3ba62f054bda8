package task

import (
	"errors"
	"fmt"
)

// Error types for classifying failures along the decompose/dispatch/execute/merge path.

// ErrNoResults is wrapped by MergeError when merge is called with nothing to merge.
var ErrNoResults = errors.New("no results to merge")

// DecompositionError reports an invalid decomposition config or dependency graph.
// It is fatal: never retried, surfaced to the caller before any dispatch.
type DecompositionError struct {
	TaskID string
	err    error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition of task %q failed: %v", e.TaskID, e.err)
}

func (e *DecompositionError) Unwrap() error {
	return e.err
}

// NewDecompositionError wraps err as a decomposition failure for taskID.
func NewDecompositionError(taskID string, err error) error {
	return &DecompositionError{TaskID: taskID, err: err}
}

// DispatchError reports that no agent could be assigned to a microtask.
type DispatchError struct {
	AgentType string
	err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %q pool failed: %v", e.AgentType, e.err)
}

func (e *DispatchError) Unwrap() error {
	return e.err
}

// NewDispatchError wraps err as a dispatch failure for the given pool.
func NewDispatchError(agentType string, err error) error {
	return &DispatchError{AgentType: agentType, err: err}
}

// ExecutionError reports that an agent failed or exceeded its timeout.
type ExecutionError struct {
	AgentID string
	Timeout bool
	err     error
}

func (e *ExecutionError) Error() string {
	who := "microtask"
	if e.AgentID != "" {
		who = fmt.Sprintf("agent %q", e.AgentID)
	}
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", who, e.err)
	}
	return fmt.Sprintf("%s failed: %v", who, e.err)
}

func (e *ExecutionError) Unwrap() error {
	return e.err
}

// NewExecutionError wraps an agent-reported failure.
func NewExecutionError(agentID string, err error) error {
	return &ExecutionError{AgentID: agentID, err: err}
}

// NewTimeoutError wraps a timeout or cancellation of an agent call.
func NewTimeoutError(agentID string, err error) error {
	return &ExecutionError{AgentID: agentID, Timeout: true, err: err}
}

// MergeError reports a merge precondition violation.
type MergeError struct {
	err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed: %v", e.err)
}

func (e *MergeError) Unwrap() error {
	return e.err
}

// NewMergeError wraps err as a merge failure.
func NewMergeError(err error) error {
	return &MergeError{err: err}
}

// IsDecomposition returns true if err is or wraps a DecompositionError.
func IsDecomposition(err error) bool {
	var target *DecompositionError
	return errors.As(err, &target)
}

// IsDispatch returns true if err is or wraps a DispatchError.
func IsDispatch(err error) bool {
	var target *DispatchError
	return errors.As(err, &target)
}

// IsTimeout returns true if err is an ExecutionError caused by a timeout.
func IsTimeout(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target) && target.Timeout
}

// IsRetryable returns true for dispatch and execution failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var exec *ExecutionError
	return IsDispatch(err) || errors.As(err, &exec)
}
