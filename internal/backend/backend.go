// Package backend provides the agent implementations pools are filled with:
// subprocess-backed command agents and built-in simulated agents.
package backend

import (
	"fmt"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/pool"
)

// AgentID names the seq-th agent of a pool.
func AgentID(agentType string, seq int) string {
	return fmt.Sprintf("%s-%d", agentType, seq)
}

// NewFactory returns the pool.Factory for a configured pool. Pools with a
// command spawn CommandAgents tracked by pm; the rest get SimulatedAgents
// built with simOpts.
func NewFactory(pc config.PoolConfig, pm *ProcessManager, simOpts ...SimOption) pool.Factory {
	if pc.Command == "" {
		return Simulated(simOpts...)
	}
	command, args := pc.Command, append([]string(nil), pc.Args...)
	return func(agentType string, seq int) (pool.Agent, error) {
		if agentType == "" {
			return nil, fmt.Errorf("agent type is empty")
		}
		return NewCommandAgent(AgentID(agentType, seq), agentType, command, args, pm), nil
	}
}

// Simulated returns a factory of SimulatedAgents.
func Simulated(opts ...SimOption) pool.Factory {
	return func(agentType string, seq int) (pool.Agent, error) {
		if agentType == "" {
			return nil, fmt.Errorf("agent type is empty")
		}
		return NewSimulatedAgent(AgentID(agentType, seq), agentType, opts...), nil
	}
}
