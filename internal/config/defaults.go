package config

import "time"

// DefaultDomains maps agent types to the keywords that route work to them.
func DefaultDomains() map[string][]string {
	return map[string][]string{
		"research":   {"research", "find", "search", "investigate", "sources", "market", "trends", "discover"},
		"analysis":   {"analyze", "analyse", "analysis", "compare", "evaluate", "patterns", "metrics", "assess"},
		"validation": {"validate", "verify", "check", "test", "audit", "review"},
		"writing":    {"write", "draft", "summarize", "summarise", "report", "document"},
		"code":       {"code", "implement", "refactor", "debug", "build", "program"},
	}
}

// DefaultConfig returns the default configuration with built-in pools for each domain.
func DefaultConfig() *Config {
	return &Config{
		Decomposition: DecompositionConfig{
			MinMicrotasks:       2,
			MaxMicrotasks:       6,
			Strategy:            StrategyHybrid,
			MaxDepth:            3,
			TimeoutPerMicrotask: Duration(2 * time.Minute),
			Domains:             DefaultDomains(),
		},
		LoadBalancing: LoadBalancingConfig{
			Strategy:             BalanceLeastLoaded,
			MaxRetries:           2,
			TimeoutPerAssignment: Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			InitialInterval:     Duration(100 * time.Millisecond),
			MaxInterval:         Duration(2 * time.Second),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Processor: ProcessorConfig{
			ComplexityThreshold: 6,
			LengthThreshold:     200,
			ParallelTypes:       []string{"research", "analysis"},
			ParallelPriorities:  []string{"high", "critical"},
		},
		Pools: map[string]PoolConfig{
			"research":   {MinSize: 2, MaxSize: 8},
			"analysis":   {MinSize: 2, MaxSize: 6},
			"validation": {MinSize: 1, MaxSize: 4},
			"writing":    {MinSize: 1, MaxSize: 4},
			"code":       {MinSize: 1, MaxSize: 4},
			"general":    {MinSize: 1, MaxSize: 4},
		},
		Logger: LoggerConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}
