package pool

import (
	"fmt"
	"math/rand/v2"
	"path"
	"sync"
	"time"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/task"
)

// AgentState is one agent as seen by a Selector.
type AgentState struct {
	ID          string
	Busy        bool
	Utilization float64 // Lifetime busy time over age, in [0,1]
	Order       int64   // Insertion sequence, lower is older
	Weight      float64 // Agent-supplied weight, 0 when the agent has none
}

// Snapshot is a consistent view of a pool, agents in insertion order.
type Snapshot struct {
	AgentType string
	Agents    []AgentState
}

func (s Snapshot) idle() []AgentState {
	idle := make([]AgentState, 0, len(s.Agents))
	for _, a := range s.Agents {
		if !a.Busy {
			idle = append(idle, a)
		}
	}
	return idle
}

// Selector picks the agent that runs a microtask.
type Selector interface {
	SelectAgent(mt task.Microtask, snap Snapshot) (string, error)
}

// LoadBalancer implements the configured balancing strategy.
// Round-robin cursors are kept per pool.
type LoadBalancer struct {
	mu      sync.Mutex
	cfg     config.LoadBalancingConfig
	cursors map[string]int
	rng     *rand.Rand
}

// BalancerOption configures a LoadBalancer.
type BalancerOption func(*LoadBalancer)

// WithRand sets the random source used by the weighted strategy.
func WithRand(r *rand.Rand) BalancerOption {
	return func(lb *LoadBalancer) { lb.rng = r }
}

// NewLoadBalancer creates a balancer for cfg.
func NewLoadBalancer(cfg config.LoadBalancingConfig, opts ...BalancerOption) *LoadBalancer {
	lb := &LoadBalancer{
		cfg:     cfg,
		cursors: make(map[string]int),
	}
	for _, opt := range opts {
		opt(lb)
	}
	if lb.rng == nil {
		seed := uint64(time.Now().UnixNano())
		lb.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return lb
}

// Strategy returns the configured strategy.
func (lb *LoadBalancer) Strategy() config.BalancingStrategy {
	return lb.cfg.Strategy
}

// SelectAgent returns the ID of an idle agent for mt. When every agent is
// busy it returns a DispatchError wrapping ErrNoIdleAgent.
func (lb *LoadBalancer) SelectAgent(mt task.Microtask, snap Snapshot) (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	idle := snap.idle()
	if len(idle) == 0 {
		return "", task.NewDispatchError(snap.AgentType, ErrNoIdleAgent)
	}

	switch lb.cfg.Strategy {
	case config.BalanceRoundRobin:
		return lb.roundRobin(snap, nil), nil
	case config.BalanceWeighted:
		return lb.weighted(snap.AgentType, idle), nil
	case config.BalancePriority:
		return lb.priority(mt, snap, idle), nil
	case config.BalanceAffinity:
		return lb.affinity(mt, idle), nil
	case config.BalanceLeastLoaded, "":
		return leastLoaded(idle).ID, nil
	default:
		return "", task.NewDispatchError(snap.AgentType, fmt.Errorf("unknown balancing strategy %q", lb.cfg.Strategy))
	}
}

// roundRobin walks the pool from the cursor and takes the first idle agent
// not in skip, then moves the cursor past it.
func (lb *LoadBalancer) roundRobin(snap Snapshot, skip map[string]bool) string {
	n := len(snap.Agents)
	start := lb.cursors[snap.AgentType] % n
	for i := range n {
		idx := (start + i) % n
		a := snap.Agents[idx]
		if a.Busy || skip[a.ID] {
			continue
		}
		lb.cursors[snap.AgentType] = idx + 1
		return a.ID
	}
	return ""
}

// weighted draws an idle agent with probability proportional to its weight.
// Agent weights win over the per-type weight map; without either the draw is uniform.
func (lb *LoadBalancer) weighted(agentType string, idle []AgentState) string {
	typeWeight, hasTypeWeight := lb.cfg.Weight[agentType]

	weights := make([]float64, len(idle))
	total := 0.0
	for i, a := range idle {
		w := 1.0
		switch {
		case a.Weight > 0:
			w = a.Weight
		case hasTypeWeight && typeWeight > 0:
			w = typeWeight
		}
		weights[i] = w
		total += w
	}

	r := lb.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return idle[i].ID
		}
		r -= w
	}
	return idle[len(idle)-1].ID
}

// priority sends urgent microtasks to the least-loaded agent; other work
// round-robins over the remaining idle agents so the least-loaded one stays
// free for urgent work.
func (lb *LoadBalancer) priority(mt task.Microtask, snap Snapshot, idle []AgentState) string {
	best := leastLoaded(idle)
	if mt.Priority.Urgent() || len(idle) == 1 {
		return best.ID
	}
	return lb.roundRobin(snap, map[string]bool{best.ID: true})
}

// affinity confines selection to the first rule matching the microtask type,
// falling back to least-loaded over the whole pool when that subset is busy.
func (lb *LoadBalancer) affinity(mt task.Microtask, idle []AgentState) string {
	for _, rule := range lb.cfg.AffinityRules {
		if matched, err := path.Match(rule.MicrotaskType, mt.Type); err != nil || !matched {
			continue
		}
		allowed := make(map[string]bool, len(rule.AgentIDs))
		for _, id := range rule.AgentIDs {
			allowed[id] = true
		}
		var subset []AgentState
		for _, a := range idle {
			if allowed[a.ID] {
				subset = append(subset, a)
			}
		}
		if len(subset) > 0 {
			return leastLoaded(subset).ID
		}
		break
	}
	return leastLoaded(idle).ID
}

// leastLoaded returns the agent with the lowest utilization, oldest first on ties.
func leastLoaded(agents []AgentState) AgentState {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Utilization < best.Utilization || (a.Utilization == best.Utilization && a.Order < best.Order) {
			best = a
		}
	}
	return best
}
