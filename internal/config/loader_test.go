package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalFile    string
		globalConfig  string
		projectFile   string
		projectConfig string
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Decomposition.Strategy != StrategyHybrid {
					t.Errorf("strategy = %q, want hybrid", cfg.Decomposition.Strategy)
				}
				if len(cfg.Pools) != 6 {
					t.Errorf("pools count = %d, want 6", len(cfg.Pools))
				}
			},
		},
		{
			name:         "Global only - overrides single field",
			globalFile:   "global.json",
			globalConfig: `{"decomposition": {"max_microtasks": 8}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Decomposition.MaxMicrotasks != 8 {
					t.Errorf("max_microtasks = %d, want 8", cfg.Decomposition.MaxMicrotasks)
				}
				if cfg.Decomposition.MinMicrotasks != 2 {
					t.Errorf("min_microtasks = %d, want default 2", cfg.Decomposition.MinMicrotasks)
				}
			},
		},
		{
			name:          "Project only - adds a pool",
			projectFile:   "project.json",
			projectConfig: `{"pools": {"translation": {"min_size": 1, "max_size": 2, "command": "translate"}}}`,
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Pools) != 7 {
					t.Errorf("pools count = %d, want 7", len(cfg.Pools))
				}
				if cfg.Pools["translation"].Command != "translate" {
					t.Errorf("translation command = %q", cfg.Pools["translation"].Command)
				}
				if cfg.Pools["research"].MaxSize != 8 {
					t.Errorf("research pool lost its defaults: %+v", cfg.Pools["research"])
				}
			},
		},
		{
			name:          "Project overrides global - project wins",
			globalFile:    "global.json",
			globalConfig:  `{"load_balancing": {"strategy": "weighted", "max_retries": 4}}`,
			projectFile:   "project.json",
			projectConfig: `{"load_balancing": {"strategy": "round-robin"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.LoadBalancing.Strategy != BalanceRoundRobin {
					t.Errorf("strategy = %q, want round-robin", cfg.LoadBalancing.Strategy)
				}
				if cfg.LoadBalancing.MaxRetries != 4 {
					t.Errorf("max_retries = %d, want 4 from global", cfg.LoadBalancing.MaxRetries)
				}
			},
		},
		{
			name:         "YAML global with durations",
			globalFile:   "global.yaml",
			globalConfig: "decomposition:\n  timeout_per_microtask: 45s\nretry:\n  max_interval: 1s\n",
			check: func(t *testing.T, cfg *Config) {
				if got := cfg.Decomposition.TimeoutPerMicrotask.Std(); got != 45*time.Second {
					t.Errorf("timeout_per_microtask = %v, want 45s", got)
				}
				if got := cfg.Retry.MaxInterval.Std(); got != time.Second {
					t.Errorf("max_interval = %v, want 1s", got)
				}
				if cfg.Decomposition.MaxDepth != 3 {
					t.Errorf("max_depth = %d, want default 3", cfg.Decomposition.MaxDepth)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalFile != "" {
				globalPath = filepath.Join(tmpDir, tt.globalFile)
				writeFile(t, globalPath, tt.globalConfig)
			}

			projectPath := ""
			if tt.projectFile != "" {
				projectPath = filepath.Join(tmpDir, tt.projectFile)
				writeFile(t, projectPath, tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	writeFile(t, globalPath, "{invalid json")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !strings.Contains(err.Error(), "global.json") {
		t.Errorf("error should mention the file: %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()

	projectPath := filepath.Join(tmpDir, "project.json")
	writeFile(t, projectPath, `{"decomposition": {"min_microtasks": 7, "max_microtasks": 3}}`)

	_, err := Load("", projectPath)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds max_microtasks") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	tmpDir := t.TempDir()

	projectPath := filepath.Join(tmpDir, "project.json")
	writeFile(t, projectPath, `{"decomposition": {"timeout_per_microtask": "soon"}}`)

	if _, err := Load("", projectPath); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if cfg.LoadBalancing.Strategy != BalanceLeastLoaded {
		t.Errorf("strategy = %q, want least-loaded", cfg.LoadBalancing.Strategy)
	}
	if cfg.Decomposition.TimeoutPerMicrotask.Std() != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", cfg.Decomposition.TimeoutPerMicrotask.Std())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:        "min zero",
			mutate:      func(c *Config) { c.Decomposition.MinMicrotasks = 0 },
			errContains: "min_microtasks must be at least 1",
		},
		{
			name:        "depth zero",
			mutate:      func(c *Config) { c.Decomposition.MaxDepth = 0 },
			errContains: "max_depth",
		},
		{
			name:        "unknown decomposition strategy",
			mutate:      func(c *Config) { c.Decomposition.Strategy = "random" },
			errContains: `unknown strategy "random"`,
		},
		{
			name:        "unknown balancing strategy",
			mutate:      func(c *Config) { c.LoadBalancing.Strategy = "fastest" },
			errContains: `unknown strategy "fastest"`,
		},
		{
			name:        "weight key not an agent type",
			mutate:      func(c *Config) { c.LoadBalancing.Weight = map[string]float64{"research": 2, "sales": 1} },
			errContains: `weight key "sales"`,
		},
		{
			name:        "domain without a pool",
			mutate:      func(c *Config) { c.Decomposition.Domains["sales"] = []string{"deal", "quote"} },
			errContains: `domain "sales" has no pool`,
		},
		{
			name:        "pool bounds inverted",
			mutate:      func(c *Config) { c.Pools["code"] = PoolConfig{MinSize: 5, MaxSize: 2} },
			errContains: `pool "code": min_size 5 exceeds max_size 2`,
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.LoadBalancing.MaxRetries = -1 },
			errContains: "max_retries",
		},
		{
			name:        "jitter out of range",
			mutate:      func(c *Config) { c.Retry.RandomizationFactor = 1.5 },
			errContains: "randomization_factor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err, tt.errContains)
			}
		})
	}
}
