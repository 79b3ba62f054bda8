package backend

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/aristath/parallel-agents/internal/task"
)

// Fault is an injected misbehaviour of a simulated agent.
type Fault int

const (
	FaultNone  Fault = iota
	FaultError       // Return an execution error
	FaultHang        // Block until ctx is done
)

// FaultFunc decides the fault for one attempt of a microtask.
type FaultFunc func(agentID string, mt task.Microtask) Fault

// ErrInjected is the cause reported by FaultError.
var ErrInjected = errors.New("injected agent failure")

// DefaultSimulatedConfidence is reported by simulated agents unless overridden.
const DefaultSimulatedConfidence = 0.8

// SimulatedAgent produces deterministic, type-shaped payloads without
// running anything. It backs pools that have no command configured.
type SimulatedAgent struct {
	id         string
	agentType  string
	latency    time.Duration
	confidence float64
	weight     float64
	fault      FaultFunc
}

// SimOption configures a SimulatedAgent.
type SimOption func(*SimulatedAgent)

// WithLatency makes every Execute call take d (cut short by ctx).
func WithLatency(d time.Duration) SimOption {
	return func(a *SimulatedAgent) { a.latency = d }
}

// WithConfidence sets the confidence attached to results.
func WithConfidence(c float64) SimOption {
	return func(a *SimulatedAgent) { a.confidence = min(max(c, 0), 1) }
}

// WithWeight sets the agent's weight for the weighted balancing strategy.
func WithWeight(w float64) SimOption {
	return func(a *SimulatedAgent) { a.weight = w }
}

// WithFaults injects failures chosen by f.
func WithFaults(f FaultFunc) SimOption {
	return func(a *SimulatedAgent) { a.fault = f }
}

func NewSimulatedAgent(id, agentType string, opts ...SimOption) *SimulatedAgent {
	a := &SimulatedAgent{id: id, agentType: agentType, confidence: DefaultSimulatedConfidence}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SimulatedAgent) ID() string   { return a.id }
func (a *SimulatedAgent) Type() string { return a.agentType }

// Weight implements pool.Weighter. Zero means "use the configured weight".
func (a *SimulatedAgent) Weight() float64 { return a.weight }

func (a *SimulatedAgent) Execute(ctx context.Context, mt task.Microtask) (task.TaskResult, error) {
	start := time.Now()
	fault := FaultNone
	if a.fault != nil {
		fault = a.fault(a.id, mt)
	}

	if fault == FaultHang {
		<-ctx.Done()
		return a.interrupted(ctx, mt, start)
	}
	if a.latency > 0 {
		timer := time.NewTimer(a.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return a.interrupted(ctx, mt, start)
		case <-timer.C:
		}
	}
	if fault == FaultError {
		err := task.NewExecutionError(a.id, ErrInjected)
		return a.annotate(task.Failure(err), mt, start), err
	}

	return a.annotate(task.TaskResult{
		Success:    true,
		Content:    a.produce(mt),
		Confidence: task.Float(a.confidence),
	}, mt, start), nil
}

func (a *SimulatedAgent) interrupted(ctx context.Context, mt task.Microtask, start time.Time) (task.TaskResult, error) {
	err := task.NewTimeoutError(a.id, ctx.Err())
	return a.annotate(task.Failure(err), mt, start), err
}

func (a *SimulatedAgent) annotate(r task.TaskResult, mt task.Microtask, start time.Time) task.TaskResult {
	r.TaskID = mt.TaskID
	r.MicrotaskID = mt.ID
	r.AgentID = a.id
	r.Duration = time.Since(start)
	return r
}

// produce builds the payload for mt. The same microtask always yields the same content.
func (a *SimulatedAgent) produce(mt task.Microtask) task.Content {
	topic := headline(mt.Content)
	seed := digest(mt.ID + "|" + mt.Content)
	upstream := upstreamNote(mt.Upstream)

	switch mt.AgentType {
	case "research":
		sources := make([]task.Source, 0, 3)
		for i := range 3 {
			sources = append(sources, task.Source{
				Title: fmt.Sprintf("%s (source %d)", topic, i+1),
				URL:   fmt.Sprintf("https://sources.invalid/%s/%d", mt.ID, i+1),
			})
		}
		return task.ResearchContent(task.ResearchPayload{
			Sources:  sources,
			Insights: []string{"key finding on " + topic, fmt.Sprintf("%s shows %d notable signals", topic, 2+seed%5)},
			Summary:  strings.TrimSpace("Research on " + topic + ". " + upstream),
		})
	case "analysis":
		return task.AnalysisContent(task.AnalysisPayload{
			Insights: []string{"key finding on " + topic},
			Patterns: []string{fmt.Sprintf("pattern %d in %s", seed%7, topic)},
			Metrics: map[string]float64{
				"signal":   float64(seed%100) / 100,
				"coverage": float64(50+seed%50) / 100,
			},
			Summary: strings.TrimSpace("Analysis of " + topic + ". " + upstream),
		})
	case "validation":
		checks := []task.Check{
			{Name: "completeness", Passed: mt.Content != ""},
			{Name: "consistency", Passed: seed%4 != 0},
			{Name: "upstream", Passed: upstreamFailures(mt.Upstream) == 0},
		}
		return task.ValidationContent(task.ValidationPayload{Checks: checks})
	default:
		return task.TextContent(strings.TrimSpace(fmt.Sprintf("[%s] %s: %s. %s", a.agentType, mt.Type, topic, upstream)))
	}
}

// headline returns the first few words of s.
func headline(s string) string {
	words := strings.Fields(s)
	if len(words) > 8 {
		words = words[:8]
	}
	if len(words) == 0 {
		return "untitled"
	}
	return strings.Join(words, " ")
}

func upstreamNote(results []task.TaskResult) string {
	if len(results) == 0 {
		return ""
	}
	failed := upstreamFailures(results)
	return fmt.Sprintf("Built on %d upstream results (%d failed).", len(results), failed)
}

func upstreamFailures(results []task.TaskResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func digest(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
