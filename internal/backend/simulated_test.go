package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/parallel-agents/internal/task"
)

func TestSimulatedAgent_PayloadByType(t *testing.T) {
	tests := []struct {
		agentType string
		want      task.ContentKind
	}{
		{"research", task.KindResearch},
		{"analysis", task.KindAnalysis},
		{"validation", task.KindValidation},
		{"writing", task.KindText},
		{"general", task.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.agentType, func(t *testing.T) {
			mt := testMicrotask()
			mt.AgentType = tt.agentType
			agent := NewSimulatedAgent(AgentID(tt.agentType, 1), tt.agentType)

			r, err := agent.Execute(context.Background(), mt)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !r.Success || r.Content.Kind != tt.want {
				t.Errorf("got success=%v kind=%s, want kind %s", r.Success, r.Content.Kind, tt.want)
			}
			if r.ConfidenceOr(-1) != DefaultSimulatedConfidence {
				t.Errorf("confidence = %v", r.ConfidenceOr(-1))
			}
			if r.AgentID != agent.ID() || r.MicrotaskID != mt.ID {
				t.Errorf("result not annotated: %+v", r)
			}
		})
	}
}

func TestSimulatedAgent_Deterministic(t *testing.T) {
	mt := testMicrotask()
	a := NewSimulatedAgent("research-1", "research")
	b := NewSimulatedAgent("research-2", "research")

	ra, _ := a.Execute(context.Background(), mt)
	rb, _ := b.Execute(context.Background(), mt)
	if ra.Content.String() != rb.Content.String() {
		t.Errorf("same microtask produced different content:\n%s\n%s", ra.Content, rb.Content)
	}

	other := mt
	other.ID = "t1-mt-1"
	rc, _ := a.Execute(context.Background(), other)
	if rc.Content.Research.Sources[0].URL == ra.Content.Research.Sources[0].URL {
		t.Error("distinct microtasks should cite distinct sources")
	}
}

func TestSimulatedAgent_UpstreamReflected(t *testing.T) {
	mt := testMicrotask()
	mt.AgentType = "validation"
	mt.Upstream = []task.TaskResult{{Success: true}, task.Failure(errors.New("x"))}

	r, err := NewSimulatedAgent("validation-1", "validation").Execute(context.Background(), mt)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, c := range r.Content.Validation.Checks {
		if c.Name == "upstream" && c.Passed {
			t.Error("upstream check should fail when a dependency failed")
		}
	}
}

func TestSimulatedAgent_Faults(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		agent := NewSimulatedAgent("r-1", "research", WithFaults(func(string, task.Microtask) Fault { return FaultError }))
		r, err := agent.Execute(context.Background(), testMicrotask())
		if !errors.Is(err, ErrInjected) || task.IsTimeout(err) {
			t.Fatalf("expected injected execution error, got %v", err)
		}
		if r.Success || r.Error == "" {
			t.Errorf("unexpected result: %+v", r)
		}
	})

	t.Run("hang", func(t *testing.T) {
		agent := NewSimulatedAgent("r-1", "research", WithFaults(func(string, task.Microtask) Fault { return FaultHang }))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		r, err := agent.Execute(ctx, testMicrotask())
		if !task.IsTimeout(err) {
			t.Fatalf("expected timeout, got %v", err)
		}
		if r.Success {
			t.Error("hung attempt must fail")
		}
	})
}

func TestSimulatedAgent_LatencyRespectsContext(t *testing.T) {
	agent := NewSimulatedAgent("r-1", "research", WithLatency(10*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := agent.Execute(ctx, testMicrotask())
	if !task.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("latency ignored cancellation")
	}
}

func TestSimulatedAgent_Options(t *testing.T) {
	agent := NewSimulatedAgent("w-1", "writing", WithConfidence(1.5), WithWeight(3))
	if agent.Weight() != 3 {
		t.Errorf("Weight = %v", agent.Weight())
	}
	r, _ := agent.Execute(context.Background(), testMicrotask())
	if r.ConfidenceOr(0) != 1 {
		t.Errorf("confidence should clamp to 1, got %v", r.ConfidenceOr(0))
	}
}
