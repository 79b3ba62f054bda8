// Package orchestrator runs a task end to end: decompose it, dispatch the
// microtasks to agent pools in dependency order with retries, and merge
// the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/events"
	"github.com/aristath/parallel-agents/internal/merger"
	"github.com/aristath/parallel-agents/internal/metrics"
	"github.com/aristath/parallel-agents/internal/pool"
	"github.com/aristath/parallel-agents/internal/scheduler"
	"github.com/aristath/parallel-agents/internal/task"
)

// ParallelOrchestrator executes tasks against a pool.Manager. Its
// configuration is fixed at construction.
type ParallelOrchestrator struct {
	decomposition config.DecompositionConfig
	maxRetries    int
	retry         config.RetryConfig

	pools      *pool.Manager
	selector   pool.Selector
	decomposer *scheduler.Decomposer
	merger     *merger.Merger
	breakers   *BreakerRegistry

	logger  *zap.Logger
	bus     *events.EventBus
	metrics *metrics.Collector
}

// Option configures a ParallelOrchestrator.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	bus      *events.EventBus
	metrics  *metrics.Collector
	selector pool.Selector
	breaker  BreakerSettings
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithEventBus(bus *events.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithSelector replaces the LoadBalancer built from the configuration.
func WithSelector(sel pool.Selector) Option {
	return func(o *options) { o.selector = sel }
}

func WithBreakerSettings(s BreakerSettings) Option {
	return func(o *options) { o.breaker = s }
}

// New validates cfg and builds an orchestrator over pools.
func New(cfg *config.Config, pools *pool.Manager, opts ...Option) (*ParallelOrchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if pools == nil {
		return nil, errors.New("pool manager is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{breaker: DefaultBreakerSettings()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.selector == nil {
		o.selector = pool.NewLoadBalancer(cfg.LoadBalancing)
	}

	decomposition := cfg.Decomposition
	decomposition.Domains = maps.Clone(cfg.Decomposition.Domains)

	return &ParallelOrchestrator{
		decomposition: decomposition,
		maxRetries:    cfg.LoadBalancing.MaxRetries,
		retry:         cfg.Retry,
		pools:         pools,
		selector:      o.selector,
		decomposer:    scheduler.NewDecomposer(o.logger),
		merger:        merger.New(o.logger),
		breakers:      NewBreakerRegistry(o.breaker, o.logger),
		logger:        o.logger,
		bus:           o.bus,
		metrics:       o.metrics,
	}, nil
}

// Breakers exposes the per-agent-type circuit breakers.
func (o *ParallelOrchestrator) Breakers() *BreakerRegistry {
	return o.breakers
}

// Execute decomposes t, runs every microtask to a terminal state and merges
// the results. Only a DecompositionError or MergeError is returned as an
// error; microtask failures are reflected in the merged result.
func (o *ParallelOrchestrator) Execute(ctx context.Context, t task.Task) (task.TaskResult, error) {
	microtasks, err := o.decomposer.Decompose(t, o.decomposition)
	if err != nil {
		o.logger.Error("decomposition failed", zap.String("task_id", t.ID), zap.Error(err))
		return task.TaskResult{}, err
	}
	o.route(t.ID, microtasks)
	return o.run(ctx, t, microtasks, task.ModeParallel)
}

// route moves microtasks whose agent type has no pool onto the general pool,
// as ExecuteSequential does. Without a general pool the type is kept and
// dispatch fails with an unknown-pool error.
func (o *ParallelOrchestrator) route(taskID string, microtasks []task.Microtask) {
	known := o.pools.Types()
	if !slices.Contains(known, scheduler.DefaultAgentType) {
		return
	}
	for i, mt := range microtasks {
		if slices.Contains(known, mt.AgentType) {
			continue
		}
		o.logger.Debug("no pool for agent type, using general",
			zap.String("task_id", taskID),
			zap.String("microtask_id", mt.ID),
			zap.String("agent_type", mt.AgentType))
		microtasks[i].AgentType = scheduler.DefaultAgentType
	}
}

// ExecuteSequential runs t as a single microtask on the pool matching
// t.Type, falling back to the general pool. It shares the retry path with
// Execute.
func (o *ParallelOrchestrator) ExecuteSequential(ctx context.Context, t task.Task) (task.TaskResult, error) {
	if err := t.Validate(); err != nil {
		return task.TaskResult{}, task.NewDecompositionError(t.ID, err)
	}

	agentType := scheduler.DefaultAgentType
	if slices.Contains(o.pools.Types(), t.Type) {
		agentType = t.Type
	}
	mtType := t.Type
	if mtType == "" {
		mtType = agentType
	}

	mt := task.Microtask{
		ID:        scheduler.MicrotaskID(t.ID, 0),
		TaskID:    t.ID,
		Type:      mtType,
		AgentType: agentType,
		Content:   t.Content,
		Priority:  t.Priority,
		Timeout:   o.decomposition.TimeoutPerMicrotask.Std(),
	}
	return o.run(ctx, t, []task.Microtask{mt}, task.ModeSequential)
}

func (o *ParallelOrchestrator) run(ctx context.Context, t task.Task, microtasks []task.Microtask, mode string) (task.TaskResult, error) {
	start := time.Now()

	dag := scheduler.NewDAG()
	for _, mt := range microtasks {
		if err := dag.Add(mt); err != nil {
			return task.TaskResult{}, task.NewDecompositionError(t.ID, err)
		}
	}
	o.publishDecomposed(t.ID, microtasks)

	if t.HasDeadline() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, t.Deadline)
		defer cancel()
	}

	r := &run{o: o, taskID: t.ID, dag: dag, attempts: make(map[string]int)}
	r.schedule(ctx)

	results := dag.Results()
	merged, err := o.merger.Merge(results)
	if err != nil {
		return task.TaskResult{}, err
	}

	merged.TaskID = t.ID
	merged.MicrotaskID = ""
	merged.Duration = time.Since(start)
	merged.Metadata.Mode = mode
	merged.Metadata.MicrotaskCount = len(results)
	merged.Metadata.AgentCount = distinctAgents(results)
	merged.Metadata.Microtasks = r.summaries()
	merged.Metadata.Attempts = 0
	for _, s := range merged.Metadata.Microtasks {
		merged.Metadata.Attempts += s.Attempts
	}
	if merged.Metadata.MergeStrategy == "" {
		successes := 0
		for _, res := range results {
			if res.Success {
				successes++
			}
		}
		merged.Metadata.MergeStrategy = merger.Strategy(successes, len(results))
	}

	o.logger.Info("task finished",
		zap.String("task_id", t.ID),
		zap.String("mode", mode),
		zap.String("merge_strategy", merged.Metadata.MergeStrategy),
		zap.Int("microtasks", len(results)),
		zap.Int("attempts", merged.Metadata.Attempts),
		zap.Float64("confidence", merged.ConfidenceOr(0)),
		zap.Duration("duration", merged.Duration))
	return merged, nil
}

func distinctAgents(results []task.TaskResult) int {
	seen := make(map[string]bool)
	for _, r := range results {
		if r.AgentID != "" {
			seen[r.AgentID] = true
		}
	}
	return len(seen)
}

func (o *ParallelOrchestrator) publishDecomposed(taskID string, microtasks []task.Microtask) {
	infos := make([]events.MicrotaskInfo, 0, len(microtasks))
	for _, mt := range microtasks {
		infos = append(infos, events.MicrotaskInfo{
			ID:           mt.ID,
			Type:         mt.Type,
			AgentType:    mt.AgentType,
			Dependencies: slices.Clone(mt.Dependencies),
		})
	}
	o.bus.Publish(events.TopicTask, events.TaskDecomposedEvent{ID: taskID, Microtasks: infos, Timestamp: time.Now()})
}

// run is the execution state of one task.
type run struct {
	o      *ParallelOrchestrator
	taskID string
	dag    *scheduler.DAG

	mu       sync.Mutex
	attempts map[string]int // microtask ID -> attempts made, dispatched or not
}

// schedule launches each microtask once its dependencies are terminal and
// returns when every microtask is terminal.
func (r *run) schedule(ctx context.Context) {
	var g errgroup.Group
	completions := make(chan string, r.dag.Len())
	launched := make(map[string]bool, r.dag.Len())
	inFlight := 0

	for {
		for _, mt := range r.dag.Ready() {
			if launched[mt.ID] {
				continue
			}
			launched[mt.ID] = true
			inFlight++
			g.Go(func() error {
				r.runMicrotask(ctx, mt)
				completions <- mt.ID
				return nil
			})
		}
		if inFlight == 0 {
			break
		}
		<-completions
		inFlight--
	}
	g.Wait()
	r.publishProgress()
}

// attemptOutcome is the result of one dispatch of a microtask.
type attemptOutcome struct {
	result     task.TaskResult
	err        error
	dispatched bool // An agent was leased and the DAG moved past pending
	timeout    bool
}

// runMicrotask drives one microtask through its attempts and records the
// terminal result in the DAG.
func (r *run) runMicrotask(ctx context.Context, mt task.Microtask) {
	if err := ctx.Err(); err != nil {
		res := task.Failure(task.NewTimeoutError("", err))
		r.finish(mt, res, false)
		return
	}

	exclude := make(map[string]bool)
	var last task.TaskResult
	var lastErr error
	attempt := 0

	op := func() error {
		attempt++
		mt.Attempt = attempt
		r.mu.Lock()
		r.attempts[mt.ID] = attempt
		r.mu.Unlock()

		out := r.attempt(ctx, mt, exclude)
		last, lastErr = out.result, out.err
		if out.err == nil {
			return nil
		}
		if out.result.AgentID != "" {
			exclude[out.result.AgentID] = true
		}

		retrying := attempt <= r.o.maxRetries && ctx.Err() == nil &&
			task.IsRetryable(out.err) && !isPermanent(out.err)
		r.attemptFailed(mt, out, retrying)
		if !retrying {
			return backoff.Permanent(out.err)
		}
		return out.err
	}

	policy := backoff.WithContext(newRetryPolicy(r.o.retry, r.o.maxRetries), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		r.o.logger.Debug("retrying microtask",
			zap.String("task_id", r.taskID),
			zap.String("microtask_id", mt.ID),
			zap.Int("next_attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})

	if err == nil {
		r.finish(mt, last, true)
		return
	}
	if ctx.Err() != nil && !task.IsTimeout(lastErr) {
		// The task deadline fired between attempts.
		last = task.Failure(task.NewTimeoutError(last.AgentID, ctx.Err()))
	}
	r.finish(mt, last, false)
}

// attempt leases an agent and runs mt on it, bounded by the microtask timeout.
// The agent call runs in its own goroutine and holds the lease until it
// returns, even if the attempt has already been abandoned.
func (r *run) attempt(ctx context.Context, mt task.Microtask, exclude map[string]bool) attemptOutcome {
	o := r.o
	started := time.Now()

	lease, err := o.pools.Acquire(ctx, mt, o.selector, exclude)
	if err != nil {
		o.metrics.AttemptFinished(mt.AgentType, mt.Attempt, metrics.OutcomeReject, 0)
		return attemptOutcome{result: r.failure(mt, "", err), err: err}
	}

	breaker := o.breakers.Get(mt.AgentType)
	done, err := breaker.Allow()
	if err != nil {
		lease.Release()
		err = task.NewDispatchError(mt.AgentType, fmt.Errorf("circuit %s: %w", breaker.State(), err))
		o.metrics.AttemptFinished(mt.AgentType, mt.Attempt, metrics.OutcomeReject, 0)
		return attemptOutcome{result: r.failure(mt, "", err), err: err}
	}

	agent := lease.Agent
	if err := r.dag.MarkDispatched(mt.ID); err != nil {
		lease.Release()
		done(true)
		err = task.NewDispatchError(mt.AgentType, err)
		return attemptOutcome{result: r.failure(mt, agent.ID(), err), err: err}
	}
	o.bus.Publish(events.TopicMicrotask, events.MicrotaskDispatchedEvent{
		Task: r.taskID, MicrotaskID: mt.ID, AgentID: agent.ID(), Attempt: mt.Attempt, Timestamp: time.Now(),
	})
	o.logger.Debug("microtask dispatched",
		zap.String("task_id", r.taskID),
		zap.String("microtask_id", mt.ID),
		zap.String("agent_id", agent.ID()),
		zap.Int("attempt", mt.Attempt))
	_ = r.dag.MarkRunning(mt.ID)
	r.publishProgress()

	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if mt.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, mt.Timeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type reply struct {
		result task.TaskResult
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		defer lease.Release()
		res, err := agent.Execute(actx, mt)
		replies <- reply{res, err}
	}()

	var res task.TaskResult
	select {
	case rep := <-replies:
		res, err = rep.result, rep.err
	case <-actx.Done():
		err = task.NewTimeoutError(agent.ID(), actx.Err())
		res = task.Failure(err)
	}

	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "agent reported failure"
		}
		err = task.NewExecutionError(agent.ID(), errors.New(msg))
	}
	if err != nil && !task.IsRetryable(err) {
		if actx.Err() != nil {
			err = task.NewTimeoutError(agent.ID(), err)
		} else {
			err = task.NewExecutionError(agent.ID(), err)
		}
	}

	res.TaskID = r.taskID
	res.MicrotaskID = mt.ID
	res.AgentID = agent.ID()
	if res.Duration <= 0 {
		res.Duration = time.Since(started)
	}
	out := attemptOutcome{result: res, err: err, dispatched: true, timeout: task.IsTimeout(err)}
	if err != nil {
		out.result.Success = false
		if out.result.Error == "" {
			out.result.Error = err.Error()
		}
	}

	// A cancelled task is not the agent type's fault.
	done(err == nil || ctx.Err() != nil)

	outcome := metrics.OutcomeSuccess
	switch {
	case out.timeout:
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeFailure
	}
	o.metrics.AttemptFinished(mt.AgentType, mt.Attempt, outcome, time.Since(started))
	return out
}

func (r *run) failure(mt task.Microtask, agentID string, err error) task.TaskResult {
	res := task.Failure(err)
	res.TaskID = r.taskID
	res.MicrotaskID = mt.ID
	res.AgentID = agentID
	return res
}

// attemptFailed moves a failed attempt to timed-out and, when another
// attempt follows, back to pending.
func (r *run) attemptFailed(mt task.Microtask, out attemptOutcome, retrying bool) {
	if out.dispatched {
		if out.timeout {
			_ = r.dag.MarkTimedOut(mt.ID)
		}
		if retrying {
			_ = r.dag.ResetPending(mt.ID)
		}
	}

	r.o.bus.Publish(events.TopicMicrotask, events.MicrotaskFailedEvent{
		Task:        r.taskID,
		MicrotaskID: mt.ID,
		AgentID:     out.result.AgentID,
		Attempt:     mt.Attempt,
		Err:         out.err,
		Timeout:     out.timeout,
		Retrying:    retrying,
		Timestamp:   time.Now(),
	})
	r.o.logger.Warn("microtask attempt failed",
		zap.String("task_id", r.taskID),
		zap.String("microtask_id", mt.ID),
		zap.String("agent_id", out.result.AgentID),
		zap.Int("attempt", mt.Attempt),
		zap.Bool("timeout", out.timeout),
		zap.Bool("retrying", retrying),
		zap.Error(out.err))
	r.publishProgress()
}

// finish records the terminal result of mt.
func (r *run) finish(mt task.Microtask, res task.TaskResult, success bool) {
	res.TaskID = r.taskID
	res.MicrotaskID = mt.ID

	if success {
		if err := r.dag.MarkCompleted(mt.ID, res); err != nil {
			r.o.logger.Error("failed to record microtask result", zap.String("microtask_id", mt.ID), zap.Error(err))
		}
		r.o.bus.Publish(events.TopicMicrotask, events.MicrotaskCompletedEvent{
			Task:        r.taskID,
			MicrotaskID: mt.ID,
			AgentID:     res.AgentID,
			Attempt:     mt.Attempt,
			Duration:    res.Duration,
			Timestamp:   time.Now(),
		})
	} else {
		if err := r.dag.MarkFailed(mt.ID, res); err != nil {
			r.o.logger.Error("failed to record microtask failure", zap.String("microtask_id", mt.ID), zap.Error(err))
		}
	}
	r.o.metrics.MicrotaskFinished(mt.AgentType, success)
	r.publishProgress()
}

func (r *run) publishProgress() {
	p := r.dag.Progress()
	r.o.bus.Publish(events.TopicMicrotask, events.ProgressEvent{
		Task:      r.taskID,
		Total:     p.Total,
		Completed: p.Completed,
		Running:   p.Running,
		Failed:    p.Failed,
		Pending:   p.Pending,
		Timestamp: time.Now(),
	})
}

// summaries reports the outcome of every microtask in submission order.
func (r *run) summaries() []task.MicrotaskSummary {
	results := r.dag.Results()
	microtasks := r.dag.Microtasks()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]task.MicrotaskSummary, 0, len(microtasks))
	for i, mt := range microtasks {
		res := results[i]
		out = append(out, task.MicrotaskSummary{
			ID:        mt.ID,
			Type:      mt.Type,
			AgentType: mt.AgentType,
			AgentID:   res.AgentID,
			Success:   res.Success,
			Error:     res.Error,
			Attempts:  r.attempts[mt.ID],
			Duration:  res.Duration,
		})
	}
	return out
}
