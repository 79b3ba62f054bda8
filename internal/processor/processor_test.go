package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/events"
	"github.com/aristath/parallel-agents/internal/metrics"
	"github.com/aristath/parallel-agents/internal/persistence"
	"github.com/aristath/parallel-agents/internal/task"
)

// fakeExecutor records which path a task took and returns a canned result.
type fakeExecutor struct {
	mu         sync.Mutex
	parallel   []string
	sequential []string
	result     task.TaskResult
	err        error
}

func (f *fakeExecutor) Execute(_ context.Context, t task.Task) (task.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parallel = append(f.parallel, t.ID)
	return f.result, f.err
}

func (f *fakeExecutor) ExecuteSequential(_ context.Context, t task.Task) (task.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequential = append(f.sequential, t.ID)
	return f.result, f.err
}

func TestHeuristic(t *testing.T) {
	pred := Heuristic(config.DefaultConfig().Processor)

	tests := []struct {
		name string
		task task.Task
		want bool
	}{
		{"simple", task.Task{ID: "a", Type: "general", Content: "hello", Complexity: 2}, false},
		{"complex", task.Task{ID: "a", Type: "general", Content: "hello", Complexity: 6}, true},
		{"just below threshold", task.Task{ID: "a", Type: "general", Content: "hello", Complexity: 5}, false},
		{"long content", task.Task{ID: "a", Type: "general", Content: strings.Repeat("x", 200), Complexity: 1}, true},
		{"short content", task.Task{ID: "a", Type: "general", Content: strings.Repeat("x", 199), Complexity: 1}, false},
		{"research type", task.Task{ID: "a", Type: "research", Content: "q", Complexity: 1}, true},
		{"analysis type", task.Task{ID: "a", Type: "analysis", Content: "q", Complexity: 1}, true},
		{"high priority", task.Task{ID: "a", Type: "general", Content: "q", Complexity: 1, Priority: task.PriorityHigh}, true},
		{"critical priority", task.Task{ID: "a", Type: "general", Content: "q", Complexity: 1, Priority: task.PriorityCritical}, true},
		{"low priority", task.Task{ID: "a", Type: "general", Content: "q", Complexity: 1, Priority: task.PriorityLow}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pred(tt.task); got != tt.want {
				t.Errorf("Heuristic(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestHeuristic_ZeroThresholdsDisabled(t *testing.T) {
	pred := Heuristic(config.ProcessorConfig{})
	if pred(task.Task{ID: "a", Content: strings.Repeat("x", 1000), Complexity: 10}) {
		t.Error("zero thresholds and empty lists should never parallelize")
	}
}

func TestSubmit_ChoosesMode(t *testing.T) {
	exec := &fakeExecutor{result: task.TaskResult{Success: true, Content: task.TextContent("ok"), AgentID: "general-1"}}
	p := New(exec, config.DefaultConfig().Processor, WithLogger(zaptest.NewLogger(t)))

	par, err := p.Submit(context.Background(), task.Task{ID: "p", Type: "research", Content: "q", Complexity: 8})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	seq, err := p.Submit(context.Background(), task.Task{ID: "s", Type: "general", Content: "q", Complexity: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(exec.parallel) != 1 || exec.parallel[0] != "p" {
		t.Errorf("parallel path got %v", exec.parallel)
	}
	if len(exec.sequential) != 1 || exec.sequential[0] != "s" {
		t.Errorf("sequential path got %v", exec.sequential)
	}
	if par.Metadata.Mode != task.ModeParallel || seq.Metadata.Mode != task.ModeSequential {
		t.Errorf("modes = %q/%q", par.Metadata.Mode, seq.Metadata.Mode)
	}
}

func TestSubmit_CustomPredicate(t *testing.T) {
	exec := &fakeExecutor{result: task.TaskResult{Success: true}}
	p := New(exec, config.DefaultConfig().Processor, WithPredicate(func(task.Task) bool { return false }))

	if _, err := p.Submit(context.Background(), task.Task{ID: "x", Type: "research", Complexity: 10}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(exec.parallel) != 0 || len(exec.sequential) != 1 {
		t.Errorf("predicate ignored: parallel=%v sequential=%v", exec.parallel, exec.sequential)
	}
}

func TestSubmit_NormalizesMetadata(t *testing.T) {
	exec := &fakeExecutor{result: task.TaskResult{Success: true, Content: task.TextContent("ok"), AgentID: "general-2"}}
	p := New(exec, config.DefaultConfig().Processor)

	r, err := p.Submit(context.Background(), task.Task{ID: "t1", Type: "general", Content: "q", Complexity: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.TaskID != "t1" {
		t.Errorf("TaskID = %q", r.TaskID)
	}
	if r.Metadata.MergeStrategy != task.MergeSingle {
		t.Errorf("MergeStrategy = %q, want %q", r.Metadata.MergeStrategy, task.MergeSingle)
	}
	if r.Metadata.AgentCount != 1 || r.Metadata.MicrotaskCount != 1 {
		t.Errorf("counts = %d agents, %d microtasks", r.Metadata.AgentCount, r.Metadata.MicrotaskCount)
	}
}

func TestSubmit_KeepsOrchestratorMetadata(t *testing.T) {
	exec := &fakeExecutor{result: task.TaskResult{
		Success:    true,
		Confidence: task.Float(0.6),
		Metadata: task.Metadata{
			MergeStrategy:  task.MergePartialSuccess,
			AgentCount:     3,
			MicrotaskCount: 4,
		},
	}}
	p := New(exec, config.DefaultConfig().Processor)

	r, err := p.Submit(context.Background(), task.Task{ID: "t1", Type: "research", Content: "q", Complexity: 7})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Metadata.MergeStrategy != task.MergePartialSuccess || r.Metadata.AgentCount != 3 || r.Metadata.MicrotaskCount != 4 {
		t.Errorf("metadata overwritten: %+v", r.Metadata)
	}
}

func TestSubmit_InvalidTask(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, config.DefaultConfig().Processor)

	tests := []task.Task{
		{Type: "general", Complexity: 1},
		{ID: "x", Complexity: 0},
		{ID: "x", Complexity: 11},
		{ID: "x", Complexity: 3, Priority: "urgent"},
	}
	for _, tk := range tests {
		_, err := p.Submit(context.Background(), tk)
		if !task.IsDecomposition(err) {
			t.Errorf("Submit(%+v): expected decomposition error, got %v", tk, err)
		}
	}
	if len(exec.parallel)+len(exec.sequential) != 0 {
		t.Error("invalid tasks must not reach the executor")
	}
}

func TestSubmit_RecordsAndPublishes(t *testing.T) {
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	ch := bus.Subscribe(events.TopicTask, 10)
	m := metrics.New()

	exec := &fakeExecutor{result: task.TaskResult{
		Success:    true,
		Content:    task.TextContent("merged"),
		Confidence: task.Float(0.9),
		Metadata: task.Metadata{
			MergeStrategy:  task.MergeAllSuccess,
			AgentCount:     2,
			MicrotaskCount: 2,
			Microtasks: []task.MicrotaskSummary{
				{ID: "t1-mt-0", Type: "research", AgentType: "research", AgentID: "research-1", Success: true, Attempts: 1},
				{ID: "t1-mt-1", Type: "research", AgentType: "research", AgentID: "research-2", Success: true, Attempts: 1},
			},
		},
	}}
	p := New(exec, config.DefaultConfig().Processor, WithStore(store), WithEventBus(bus), WithMetrics(m))

	if _, err := p.Submit(context.Background(), task.Task{ID: "t1", Type: "research", Content: "q", Complexity: 7}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sub, err := store.GetSubmission(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Mode != task.ModeParallel || sub.MergeStrategy != task.MergeAllSuccess || len(sub.Microtasks) != 2 {
		t.Errorf("stored submission = %+v", sub)
	}

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e.EventType())
			if fin, ok := e.(events.TaskFinishedEvent); ok {
				if !fin.Success || fin.Confidence != 0.9 || fin.MergeStrategy != task.MergeAllSuccess {
					t.Errorf("finished event = %+v", fin)
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if got[0] != events.EventTypeTaskSubmitted || got[1] != events.EventTypeTaskFinished {
		t.Errorf("event order = %v", got)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "parallel_agents_submissions_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 submissions series, got %d", n)
	}
}

func TestSubmit_ExecutorErrorIsRecorded(t *testing.T) {
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	boom := task.NewDecompositionError("t1", errors.New("no pool for research"))
	p := New(&fakeExecutor{err: boom}, config.DefaultConfig().Processor, WithStore(store))

	_, err = p.Submit(context.Background(), task.Task{ID: "t1", Type: "research", Content: "q", Complexity: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("expected executor error, got %v", err)
	}

	sub, err := store.GetSubmission(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Success || sub.MergeStrategy != task.MergeStrategyError || !strings.Contains(sub.Error, "no pool for research") {
		t.Errorf("failure not recorded: %+v", sub)
	}
}

func TestSubmit_RecordsAfterCancellation(t *testing.T) {
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &fakeExecutor{result: task.TaskResult{Success: false, Error: "microtask timed out: context canceled"}}
	p := New(exec, config.DefaultConfig().Processor, WithStore(store))

	r, err := p.Submit(ctx, task.Task{ID: "t1", Type: "general", Content: "q", Complexity: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Success || r.Metadata.MergeStrategy != task.MergeStrategyError {
		t.Errorf("result = %+v", r)
	}
	if _, err := store.GetSubmission(context.Background(), "t1"); err != nil {
		t.Errorf("cancelled submission not recorded: %v", err)
	}
}
