// Package pool owns the agent pools: their membership, scaling, status and
// the leasing of agents to microtasks. Agent selection is delegated to a
// Selector, normally the LoadBalancer.
package pool

import (
	"context"
	"errors"

	"github.com/aristath/parallel-agents/internal/task"
)

// Agent executes microtasks. Implementations must respect ctx cancellation
// and return a result with Error set whenever Success is false.
type Agent interface {
	ID() string
	Type() string
	Execute(ctx context.Context, mt task.Microtask) (task.TaskResult, error)
}

// Weighter is implemented by agents that carry their own selection weight.
type Weighter interface {
	Weight() float64
}

// Factory creates the seq-th agent of a pool (seq starts at 1).
type Factory func(agentType string, seq int) (Agent, error)

// Status is the lifecycle state of a pool.
type Status int

const (
	StatusInactive Status = iota // No agents, or drained
	StatusActive                 // Accepting dispatch
	StatusScaling                // Resize in progress
	StatusDraining               // No new dispatch, in-flight work finishing
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusScaling:
		return "scaling"
	case StatusDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownPool     = errors.New("unknown agent pool")
	ErrPoolExists      = errors.New("agent pool already exists")
	ErrPoolUnavailable = errors.New("agent pool is not accepting work")
	ErrPoolFull        = errors.New("agent pool is at max size")
	ErrNoIdleAgent     = errors.New("no idle agent")
	ErrAssignTimeout   = errors.New("timed out waiting for an agent")
)
