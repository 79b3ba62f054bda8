package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/task"
)

func decompCfg(strategy config.DecompositionStrategy, minN, maxN, depth int) config.DecompositionConfig {
	return config.DecompositionConfig{
		MinMicrotasks:       minN,
		MaxMicrotasks:       maxN,
		Strategy:            strategy,
		MaxDepth:            depth,
		TimeoutPerMicrotask: config.Duration(30 * time.Second),
		Domains:             config.DefaultDomains(),
	}
}

func TestMicrotaskCount(t *testing.T) {
	tests := []struct {
		complexity int
		minN, maxN int
		want       int
	}{
		{complexity: 1, minN: 2, maxN: 6, want: 2},
		{complexity: 5, minN: 2, maxN: 6, want: 4},
		{complexity: 8, minN: 3, maxN: 6, want: 5},
		{complexity: 10, minN: 3, maxN: 6, want: 6},
		{complexity: 7, minN: 1, maxN: 11, want: 8},
		{complexity: 9, minN: 4, maxN: 4, want: 4},
	}

	for _, tt := range tests {
		cfg := decompCfg(config.StrategyDomain, tt.minN, tt.maxN, 3)
		if got := MicrotaskCount(tt.complexity, cfg); got != tt.want {
			t.Errorf("MicrotaskCount(%d, [%d,%d]) = %d, want %d", tt.complexity, tt.minN, tt.maxN, got, tt.want)
		}
	}
}

func TestMatchDomains(t *testing.T) {
	got := MatchDomains("Validate the results, then research market trends and analyze them", config.DefaultDomains())
	want := []string{"validation", "research", "analysis"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MatchDomains() = %v, want %v", got, want)
	}

	if got := MatchDomains("hello world", config.DefaultDomains()); len(got) != 0 {
		t.Errorf("expected no match, got %v", got)
	}
}

func TestDecomposeDomain(t *testing.T) {
	d := NewDecomposer(nil)
	tk := task.Task{ID: "t1", Type: "general", Content: "research the market then analyze growth", Complexity: 10, Priority: task.PriorityHigh}

	mts, err := d.Decompose(tk, decompCfg(config.StrategyDomain, 2, 5, 1))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(mts) != 5 {
		t.Fatalf("got %d microtasks, want 5", len(mts))
	}

	wantTypes := []string{"research", "analysis", "research", "analysis", "research"}
	for i, m := range mts {
		if m.AgentType != wantTypes[i] {
			t.Errorf("microtask %d agent type = %q, want %q", i, m.AgentType, wantTypes[i])
		}
		if m.ID != MicrotaskID("t1", i) || m.Index != i || m.TaskID != "t1" {
			t.Errorf("microtask %d identity = %s/%d/%s", i, m.ID, m.Index, m.TaskID)
		}
		if len(m.Dependencies) != 0 {
			t.Errorf("domain microtasks must be independent, %s has %v", m.ID, m.Dependencies)
		}
		if m.Priority != task.PriorityHigh || m.Timeout != 30*time.Second {
			t.Errorf("microtask %d did not inherit priority/timeout: %+v", i, m)
		}
	}
	if mts[0].Content == mts[2].Content {
		t.Error("microtasks of one domain should have distinct focus")
	}
}

func TestDecomposeDomainFallsBackToTaskType(t *testing.T) {
	d := NewDecomposer(nil)
	tk := task.Task{ID: "t1", Type: "translation", Content: "bonjour le monde", Complexity: 3}

	mts, err := d.Decompose(tk, decompCfg(config.StrategyDomain, 2, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range mts {
		if m.AgentType != "translation" {
			t.Errorf("agent type = %q, want translation", m.AgentType)
		}
	}
}

func TestDecomposeComplexityLayers(t *testing.T) {
	tests := []struct {
		name      string
		depth     int
		wantTypes []string
		wantDepth int
	}{
		{name: "depth 1 independent", depth: 1, wantTypes: []string{"foundation", "foundation", "foundation", "foundation", "foundation", "foundation"}, wantDepth: 1},
		{name: "depth 2 synthesis", depth: 2, wantTypes: []string{"foundation", "foundation", "foundation", "foundation", "foundation", "synthesis"}, wantDepth: 2},
		{name: "depth 3 deep dives", depth: 3, wantTypes: []string{"foundation", "foundation", "foundation", "deep-dive", "deep-dive", "synthesis"}, wantDepth: 3},
		{name: "depth 5 still three layers", depth: 5, wantTypes: []string{"foundation", "foundation", "foundation", "deep-dive", "deep-dive", "synthesis"}, wantDepth: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecomposer(nil)
			tk := task.Task{ID: "t1", Type: "analysis", Content: "analyze churn", Complexity: 10}

			mts, err := d.Decompose(tk, decompCfg(config.StrategyComplexity, 2, 6, tt.depth))
			if err != nil {
				t.Fatalf("Decompose: %v", err)
			}
			if len(mts) != len(tt.wantTypes) {
				t.Fatalf("got %d microtasks, want %d", len(mts), len(tt.wantTypes))
			}
			dag := NewDAG()
			for i, m := range mts {
				if m.Type != tt.wantTypes[i] {
					t.Errorf("microtask %d type = %q, want %q", i, m.Type, tt.wantTypes[i])
				}
				if m.AgentType != "analysis" {
					t.Errorf("agent type = %q, want analysis", m.AgentType)
				}
				dag.Add(m)
			}
			depth, err := dag.Depth()
			if err != nil {
				t.Fatal(err)
			}
			if depth != tt.wantDepth {
				t.Errorf("depth = %d, want %d", depth, tt.wantDepth)
			}

			last := mts[len(mts)-1]
			if last.Type == TypeSynthesis && len(last.Dependencies) != len(mts)-1 {
				t.Errorf("synthesis depends on %d microtasks, want %d", len(last.Dependencies), len(mts)-1)
			}
		})
	}
}

func TestDecomposeHybrid(t *testing.T) {
	d := NewDecomposer(nil)
	cfg := decompCfg(config.StrategyHybrid, 3, 6, 3)

	// complexityFactor 0.8: 3 + floor(0.8*3) = 5 microtasks, the last one a synthesis.
	tk := task.Task{ID: "t1", Type: "research", Content: "research AI market trends in depth", Complexity: 8, Priority: task.PriorityHigh}
	mts, err := d.Decompose(tk, cfg)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(mts) != 5 {
		t.Fatalf("got %d microtasks, want 5", len(mts))
	}
	for _, m := range mts[:4] {
		if m.AgentType != "research" || len(m.Dependencies) != 0 {
			t.Errorf("unexpected leaf microtask %+v", m)
		}
	}
	if mts[4].Type != TypeSynthesis || len(mts[4].Dependencies) != 4 {
		t.Errorf("last microtask should synthesize the other 4: %+v", mts[4])
	}

	// Low complexity stays flat.
	tk.Complexity = 4
	mts, err = d.Decompose(tk, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range mts {
		if m.Type == TypeSynthesis {
			t.Error("low-complexity hybrid decomposition should not add a synthesis step")
		}
	}
}

func TestDecomposeManual(t *testing.T) {
	d := NewDecomposer(nil)
	cfg := decompCfg(config.StrategyManual, 2, 4, 3)

	tk := task.Task{
		ID:         "t1",
		Type:       "research",
		Content:    "compare vendors",
		Complexity: 5,
		Splits: []task.Split{
			{Key: "report", Type: "writing", Content: "write the report", DependsOn: []string{"collect", "score"}},
			{Key: "collect", Content: "collect vendor data"},
			{Key: "score", AgentType: "analysis", Content: "score vendors", DependsOn: []string{"collect"}},
		},
	}

	mts, err := d.Decompose(tk, cfg)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	// Reordered so dependencies precede dependents: collect, score, report.
	wantContent := []string{"collect vendor data", "score vendors", "write the report"}
	wantAgent := []string{"research", "analysis", "writing"}
	for i, m := range mts {
		if m.Content != wantContent[i] || m.AgentType != wantAgent[i] {
			t.Errorf("microtask %d = %q/%q, want %q/%q", i, m.Content, m.AgentType, wantContent[i], wantAgent[i])
		}
	}
	if got := strings.Join(mts[2].Dependencies, ","); got != "t1-mt-1,t1-mt-2" {
		t.Errorf("report dependencies = %s", got)
	}
	if got := strings.Join(mts[1].Dependencies, ","); got != "t1-mt-1" {
		t.Errorf("score dependencies = %s", got)
	}
}

func TestDecomposeErrors(t *testing.T) {
	valid := task.Task{ID: "t1", Type: "research", Content: "research", Complexity: 5}
	withSplits := func(splits ...task.Split) task.Task {
		tk := valid
		tk.Splits = splits
		return tk
	}

	tests := []struct {
		name        string
		task        task.Task
		cfg         config.DecompositionConfig
		errContains string
	}{
		{
			name:        "min above max",
			task:        valid,
			cfg:         decompCfg(config.StrategyDomain, 5, 3, 2),
			errContains: "exceeds max_microtasks",
		},
		{
			name:        "zero depth",
			task:        valid,
			cfg:         decompCfg(config.StrategyDomain, 1, 3, 0),
			errContains: "max_depth",
		},
		{
			name:        "invalid complexity",
			task:        task.Task{ID: "t1", Complexity: 12},
			cfg:         decompCfg(config.StrategyDomain, 1, 3, 2),
			errContains: "complexity",
		},
		{
			name: "cycle",
			task: withSplits(
				task.Split{Key: "a", Content: "a", DependsOn: []string{"b"}},
				task.Split{Key: "b", Content: "b", DependsOn: []string{"a"}},
			),
			cfg:         decompCfg(config.StrategyManual, 1, 4, 3),
			errContains: "cycle",
		},
		{
			name: "chain deeper than max depth",
			task: withSplits(
				task.Split{Key: "a", Content: "a"},
				task.Split{Key: "b", Content: "b", DependsOn: []string{"a"}},
				task.Split{Key: "c", Content: "c", DependsOn: []string{"b"}},
			),
			cfg:         decompCfg(config.StrategyManual, 1, 4, 2),
			errContains: "exceeds max depth 2",
		},
		{
			name: "unknown dependency",
			task: withSplits(
				task.Split{Key: "a", Content: "a", DependsOn: []string{"ghost"}},
				task.Split{Key: "b", Content: "b"},
			),
			cfg:         decompCfg(config.StrategyManual, 1, 4, 3),
			errContains: "ghost",
		},
		{
			name:        "too few splits",
			task:        withSplits(task.Split{Key: "a", Content: "a"}),
			cfg:         decompCfg(config.StrategyHybrid, 2, 4, 3),
			errContains: "outside [2,4]",
		},
		{
			name:        "manual without splits",
			task:        valid,
			cfg:         decompCfg(config.StrategyManual, 1, 4, 3),
			errContains: "requires splits",
		},
		{
			name: "duplicate keys",
			task: withSplits(
				task.Split{Key: "a", Content: "a"},
				task.Split{Key: "a", Content: "again"},
			),
			cfg:         decompCfg(config.StrategyManual, 1, 4, 3),
			errContains: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mts, err := NewDecomposer(nil).Decompose(tt.task, tt.cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !task.IsDecomposition(err) {
				t.Errorf("error %v is not a DecompositionError", err)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err, tt.errContains)
			}
			if mts != nil {
				t.Errorf("no microtasks may be returned on error, got %d", len(mts))
			}
		})
	}
}
