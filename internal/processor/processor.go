// Package processor is the entry point for submitted tasks. It decides
// between parallel and sequential execution and normalizes the result.
package processor

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/events"
	"github.com/aristath/parallel-agents/internal/metrics"
	"github.com/aristath/parallel-agents/internal/persistence"
	"github.com/aristath/parallel-agents/internal/task"
)

// Executor runs a task. ParallelOrchestrator implements it.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (task.TaskResult, error)
	ExecuteSequential(ctx context.Context, t task.Task) (task.TaskResult, error)
}

// Recorder persists finished submissions. persistence.SQLiteStore implements it.
type Recorder interface {
	SaveSubmission(ctx context.Context, sub persistence.Submission) error
}

// Predicate reports whether a task should be decomposed and run in parallel.
type Predicate func(t task.Task) bool

// Heuristic parallelizes a task when any of these hold: complexity at or
// above the threshold, content at least LengthThreshold bytes long, a type
// in ParallelTypes, or a priority in ParallelPriorities.
func Heuristic(cfg config.ProcessorConfig) Predicate {
	types := slices.Clone(cfg.ParallelTypes)
	priorities := slices.Clone(cfg.ParallelPriorities)
	return func(t task.Task) bool {
		switch {
		case cfg.ComplexityThreshold > 0 && t.Complexity >= cfg.ComplexityThreshold:
			return true
		case cfg.LengthThreshold > 0 && len(t.Content) >= cfg.LengthThreshold:
			return true
		case slices.Contains(types, t.Type):
			return true
		case t.Priority != "" && slices.Contains(priorities, string(t.Priority)):
			return true
		}
		return false
	}
}

// ParallelProcessor submits tasks to an Executor.
type ParallelProcessor struct {
	exec      Executor
	predicate Predicate
	store     Recorder
	bus       *events.EventBus
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a ParallelProcessor.
type Option func(*ParallelProcessor)

// WithPredicate replaces the configured Heuristic.
func WithPredicate(pred Predicate) Option {
	return func(p *ParallelProcessor) { p.predicate = pred }
}

// WithStore records every submission in r.
func WithStore(r Recorder) Option {
	return func(p *ParallelProcessor) { p.store = r }
}

func WithEventBus(bus *events.EventBus) Option {
	return func(p *ParallelProcessor) { p.bus = bus }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *ParallelProcessor) { p.metrics = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *ParallelProcessor) { p.logger = l }
}

func New(exec Executor, cfg config.ProcessorConfig, opts ...Option) *ParallelProcessor {
	p := &ParallelProcessor{
		exec:      exec,
		predicate: Heuristic(cfg),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// ShouldParallelize applies the processor's predicate to t.
func (p *ParallelProcessor) ShouldParallelize(t task.Task) bool {
	return p.predicate(t)
}

// Submit validates t, runs it in the mode chosen by the predicate and
// returns the normalized result. Invalid tasks fail with a
// *task.DecompositionError before anything is dispatched.
func (p *ParallelProcessor) Submit(ctx context.Context, t task.Task) (task.TaskResult, error) {
	if err := t.Validate(); err != nil {
		return task.TaskResult{}, task.NewDecompositionError(t.ID, err)
	}

	mode := task.ModeSequential
	if p.predicate(t) {
		mode = task.ModeParallel
	}
	start := p.now()
	p.bus.Publish(events.TopicTask, events.TaskSubmittedEvent{ID: t.ID, Mode: mode, Complexity: t.Complexity, Timestamp: start})
	p.logger.Info("task submitted",
		zap.String("task_id", t.ID),
		zap.String("type", t.Type),
		zap.String("mode", mode),
		zap.Int("complexity", t.Complexity))

	var (
		result task.TaskResult
		err    error
	)
	if mode == task.ModeParallel {
		result, err = p.exec.Execute(ctx, t)
	} else {
		result, err = p.exec.ExecuteSequential(ctx, t)
	}
	elapsed := p.now().Sub(start)

	if err != nil {
		result = task.Failure(err)
		result.Duration = elapsed
	}
	result = normalize(t, result, mode)
	if result.Duration <= 0 {
		result.Duration = elapsed
	}

	p.record(ctx, t, result, start)
	p.metrics.TaskFinished(mode, result.Metadata.MergeStrategy, result.ConfidenceOr(0), elapsed)
	p.bus.Publish(events.TopicTask, events.TaskFinishedEvent{
		ID:            t.ID,
		Success:       result.Success,
		MergeStrategy: result.Metadata.MergeStrategy,
		Confidence:    result.ConfidenceOr(0),
		Err:           result.Error,
		Duration:      elapsed,
		Timestamp:     p.now(),
	})

	if err != nil {
		p.logger.Error("task failed", zap.String("task_id", t.ID), zap.Error(err))
		return task.TaskResult{}, err
	}
	return result, nil
}

// normalize fills the metadata every caller relies on, whichever path produced the result.
func normalize(t task.Task, r task.TaskResult, mode string) task.TaskResult {
	r.TaskID = t.ID
	r.Metadata.Mode = mode
	if !r.Success && r.Error == "" {
		r.Error = "task failed"
	}
	if r.Metadata.MicrotaskCount == 0 && (r.AgentID != "" || len(r.Metadata.Microtasks) > 0) {
		r.Metadata.MicrotaskCount = max(len(r.Metadata.Microtasks), 1)
	}
	if r.Metadata.AgentCount == 0 {
		seen := make(map[string]bool)
		if r.AgentID != "" {
			seen[r.AgentID] = true
		}
		for _, s := range r.Metadata.Microtasks {
			if s.AgentID != "" {
				seen[s.AgentID] = true
			}
		}
		r.Metadata.AgentCount = len(seen)
	}
	if r.Metadata.MergeStrategy == "" {
		if r.Success {
			r.Metadata.MergeStrategy = task.MergeSingle
		} else {
			r.Metadata.MergeStrategy = task.MergeStrategyError
		}
	}
	return r
}

// record stores the submission. Failures are logged, never returned.
func (p *ParallelProcessor) record(ctx context.Context, t task.Task, r task.TaskResult, submittedAt time.Time) {
	if p.store == nil {
		return
	}
	// The task deadline may have cancelled ctx; the record is still wanted.
	if err := p.store.SaveSubmission(context.WithoutCancel(ctx), persistence.NewSubmission(t, r, submittedAt)); err != nil {
		p.logger.Warn("failed to record submission", zap.String("task_id", t.ID), zap.Error(err))
	}
}
