package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate checks the invariants of every section and reports all violations.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Decomposition.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.LoadBalancing.Validate(c.PoolTypes()); err != nil {
		errs = append(errs, err)
	}

	for _, name := range c.PoolTypes() {
		p := c.Pools[name]
		if p.MinSize < 0 {
			errs = append(errs, fmt.Errorf("pool %q: min_size %d is negative", name, p.MinSize))
		}
		if p.MaxSize < 1 {
			errs = append(errs, fmt.Errorf("pool %q: max_size must be at least 1", name))
		}
		if p.MinSize > p.MaxSize {
			errs = append(errs, fmt.Errorf("pool %q: min_size %d exceeds max_size %d", name, p.MinSize, p.MaxSize))
		}
	}

	domains := make([]string, 0, len(c.Decomposition.Domains))
	for name := range c.Decomposition.Domains {
		domains = append(domains, name)
	}
	sort.Strings(domains)
	for _, name := range domains {
		if _, ok := c.Pools[name]; !ok {
			errs = append(errs, fmt.Errorf("decomposition: domain %q has no pool", name))
		}
	}

	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry: multiplier %.2f must be >= 1", c.Retry.Multiplier))
	}
	if c.Retry.RandomizationFactor < 0 || c.Retry.RandomizationFactor > 1 {
		errs = append(errs, fmt.Errorf("retry: randomization_factor %.2f outside [0,1]", c.Retry.RandomizationFactor))
	}

	return errors.Join(errs...)
}

// Validate checks the decomposition policy.
func (d DecompositionConfig) Validate() error {
	var errs []error
	if d.MinMicrotasks < 1 {
		errs = append(errs, fmt.Errorf("decomposition: min_microtasks must be at least 1, got %d", d.MinMicrotasks))
	}
	if d.MinMicrotasks > d.MaxMicrotasks {
		errs = append(errs, fmt.Errorf("decomposition: min_microtasks %d exceeds max_microtasks %d", d.MinMicrotasks, d.MaxMicrotasks))
	}
	if d.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("decomposition: max_depth must be at least 1, got %d", d.MaxDepth))
	}
	if d.TimeoutPerMicrotask < 0 {
		errs = append(errs, fmt.Errorf("decomposition: timeout_per_microtask is negative"))
	}
	switch d.Strategy {
	case StrategyDomain, StrategyComplexity, StrategyManual, StrategyHybrid:
	default:
		errs = append(errs, fmt.Errorf("decomposition: unknown strategy %q", d.Strategy))
	}
	return errors.Join(errs...)
}

// Validate checks the balancing policy. Weight keys must name known agent
// types; a nil knownTypes skips that check.
func (l LoadBalancingConfig) Validate(knownTypes []string) error {
	var errs []error
	switch l.Strategy {
	case BalanceRoundRobin, BalanceWeighted, BalancePriority, BalanceAffinity, BalanceLeastLoaded:
	default:
		errs = append(errs, fmt.Errorf("load_balancing: unknown strategy %q", l.Strategy))
	}
	if l.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("load_balancing: max_retries must be >= 0, got %d", l.MaxRetries))
	}
	if l.TimeoutPerAssignment < 0 {
		errs = append(errs, fmt.Errorf("load_balancing: timeout_per_assignment is negative"))
	}

	known := make(map[string]bool, len(knownTypes))
	for _, t := range knownTypes {
		known[t] = true
	}
	keys := make([]string, 0, len(l.Weight))
	for k := range l.Weight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if l.Weight[k] < 0 {
			errs = append(errs, fmt.Errorf("load_balancing: weight for %q is negative", k))
		}
		if knownTypes != nil && !known[k] {
			errs = append(errs, fmt.Errorf("load_balancing: weight key %q is not a known agent type", k))
		}
	}

	for i, rule := range l.AffinityRules {
		if rule.MicrotaskType == "" {
			errs = append(errs, fmt.Errorf("load_balancing: affinity rule %d has no microtask_type", i))
		}
	}
	return errors.Join(errs...)
}

// PoolTypes returns the configured agent types in sorted order.
func (c *Config) PoolTypes() []string {
	types := make([]string, 0, len(c.Pools))
	for name := range c.Pools {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
