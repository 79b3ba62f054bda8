package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that encodes as a string ("30s") in JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare numbers are nanoseconds
		var n int64
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// DecompositionStrategy selects how a task is split into microtasks.
type DecompositionStrategy string

const (
	StrategyDomain     DecompositionStrategy = "domain"
	StrategyComplexity DecompositionStrategy = "complexity"
	StrategyManual     DecompositionStrategy = "manual"
	StrategyHybrid     DecompositionStrategy = "hybrid"
)

// BalancingStrategy selects which agent in a pool runs a microtask.
type BalancingStrategy string

const (
	BalanceRoundRobin  BalancingStrategy = "round-robin"
	BalanceWeighted    BalancingStrategy = "weighted"
	BalancePriority    BalancingStrategy = "priority"
	BalanceAffinity    BalancingStrategy = "affinity"
	BalanceLeastLoaded BalancingStrategy = "least-loaded"
)

// DecompositionConfig is the policy for splitting a task.
type DecompositionConfig struct {
	MinMicrotasks       int                   `json:"min_microtasks" yaml:"min_microtasks"`
	MaxMicrotasks       int                   `json:"max_microtasks" yaml:"max_microtasks"`
	Strategy            DecompositionStrategy `json:"strategy" yaml:"strategy"`
	MaxDepth            int                   `json:"max_depth" yaml:"max_depth"`
	TimeoutPerMicrotask Duration              `json:"timeout_per_microtask" yaml:"timeout_per_microtask"`
	Domains             map[string][]string   `json:"domains,omitempty" yaml:"domains,omitempty"` // agent type -> keywords
}

// AffinityRule binds microtasks of a type (glob pattern) to a subset of agents.
type AffinityRule struct {
	MicrotaskType string   `json:"microtask_type" yaml:"microtask_type"`
	AgentIDs      []string `json:"agent_ids" yaml:"agent_ids"`
}

// LoadBalancingConfig is the policy for assigning microtasks to agents.
type LoadBalancingConfig struct {
	Strategy             BalancingStrategy  `json:"strategy" yaml:"strategy"`
	Weight               map[string]float64 `json:"weight,omitempty" yaml:"weight,omitempty"` // agent type -> weight
	AffinityRules        []AffinityRule     `json:"affinity_rules,omitempty" yaml:"affinity_rules,omitempty"`
	MaxRetries           int                `json:"max_retries" yaml:"max_retries"`
	TimeoutPerAssignment Duration           `json:"timeout_per_assignment" yaml:"timeout_per_assignment"`
}

// RetryConfig shapes the backoff between attempts of a microtask.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval         Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier          float64  `json:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor" yaml:"randomization_factor"`
}

// PoolConfig defines one agent pool. Command pools spawn a subprocess per
// microtask; pools without a command use the built-in simulated agent.
type PoolConfig struct {
	MinSize int      `json:"min_size" yaml:"min_size"`
	MaxSize int      `json:"max_size" yaml:"max_size"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ProcessorConfig tunes the parallel-vs-sequential heuristic.
type ProcessorConfig struct {
	ComplexityThreshold int      `json:"complexity_threshold" yaml:"complexity_threshold"`
	LengthThreshold     int      `json:"length_threshold" yaml:"length_threshold"`
	ParallelTypes       []string `json:"parallel_types,omitempty" yaml:"parallel_types,omitempty"`
	ParallelPriorities  []string `json:"parallel_priorities,omitempty" yaml:"parallel_priorities,omitempty"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level    string `json:"level" yaml:"level"`       // debug, info, warn, error
	Encoding string `json:"encoding" yaml:"encoding"` // console or json
}

// StoreConfig locates the submission history database. Empty path disables it.
type StoreConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Decomposition DecompositionConfig   `json:"decomposition" yaml:"decomposition"`
	LoadBalancing LoadBalancingConfig   `json:"load_balancing" yaml:"load_balancing"`
	Retry         RetryConfig           `json:"retry" yaml:"retry"`
	Processor     ProcessorConfig       `json:"processor" yaml:"processor"`
	Pools         map[string]PoolConfig `json:"pools" yaml:"pools"`
	Logger        LoggerConfig          `json:"logger" yaml:"logger"`
	Store         StoreConfig           `json:"store" yaml:"store"`
}
