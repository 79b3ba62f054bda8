package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/backend"
	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/events"
	"github.com/aristath/parallel-agents/internal/metrics"
	"github.com/aristath/parallel-agents/internal/orchestrator"
	"github.com/aristath/parallel-agents/internal/persistence"
	"github.com/aristath/parallel-agents/internal/pool"
	"github.com/aristath/parallel-agents/internal/processor"
	"github.com/aristath/parallel-agents/internal/task"
	"github.com/aristath/parallel-agents/internal/tui"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	content     string
	taskType    string
	complexity  int
	priority    string
	deadline    time.Duration
	simulate    bool
	simLatency  time.Duration
	dashboard   bool
	jsonOutput  bool
	dbPath      string
	metricsAddr string
}

func runCmd(g *globalFlags) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [content...]",
		Short: "Submit a task and print the merged result",
		Example: `  # Research task on simulated agents
  parallel-agents run --simulate --type research --complexity 7 "market trends for home batteries"

  # Sequential run with a deadline, JSON output
  parallel-agents run --type general --complexity 2 --deadline 30s --json "summarize the notes"

  # Live dashboard with metrics exposed
  parallel-agents run --simulate --sim-latency 300ms --tui --metrics-addr :9090 --type analysis "churn drivers"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.content == "" {
				o.content = strings.Join(args, " ")
			}
			if strings.TrimSpace(o.content) == "" {
				return errors.New("task content is empty: pass --content or positional text")
			}
			return runTask(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.content, "content", "", "task content (default: positional arguments)")
	f.StringVarP(&o.taskType, "type", "t", "general", "task type (research, analysis, validation, writing, code, general)")
	f.IntVar(&o.complexity, "complexity", 5, "task complexity, 1-10")
	f.StringVar(&o.priority, "priority", "", "task priority (low, normal, high, critical)")
	f.DurationVar(&o.deadline, "deadline", 0, "task deadline from now (0 = none)")
	f.BoolVar(&o.simulate, "simulate", false, "run every pool on the simulated agent, ignoring configured commands")
	f.DurationVar(&o.simLatency, "sim-latency", 0, "latency of each simulated agent call")
	f.BoolVar(&o.dashboard, "tui", false, "show the live dashboard while the task runs")
	f.BoolVar(&o.jsonOutput, "json", false, "print the result as JSON")
	f.StringVar(&o.dbPath, "db", "", "record the submission in this sqlite database (default: store.path from config)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// engine is everything a submission runs on.
type engine struct {
	pm        *backend.ProcessManager
	bus       *events.EventBus
	metrics   *metrics.Collector
	pools     *pool.Manager
	store     *persistence.SQLiteStore
	processor *processor.ParallelProcessor
	logger    *zap.Logger
}

func newEngine(ctx context.Context, cfg *config.Config, o *runOptions, logger *zap.Logger) (*engine, error) {
	e := &engine{
		pm:      backend.NewProcessManager(),
		bus:     events.NewEventBus(),
		metrics: metrics.New(),
		logger:  logger,
	}
	e.pools = pool.NewManager(
		pool.WithLogger(logger),
		pool.WithEventBus(e.bus),
		pool.WithMetrics(e.metrics),
		pool.WithAssignmentTimeout(cfg.LoadBalancing.TimeoutPerAssignment.Std()),
	)

	var simOpts []backend.SimOption
	if o.simLatency > 0 {
		simOpts = append(simOpts, backend.WithLatency(o.simLatency))
	}
	for _, agentType := range cfg.PoolTypes() {
		pc := cfg.Pools[agentType]
		if o.simulate {
			pc.Command = ""
		}
		spec := pool.PoolSpec{
			Type:    agentType,
			MinSize: pc.MinSize,
			MaxSize: pc.MaxSize,
			Factory: backend.NewFactory(pc, e.pm, simOpts...),
		}
		if err := e.pools.CreatePool(ctx, spec); err != nil {
			e.close()
			return nil, fmt.Errorf("creating %s pool: %w", agentType, err)
		}
	}

	orch, err := orchestrator.New(cfg, e.pools,
		orchestrator.WithLogger(logger),
		orchestrator.WithEventBus(e.bus),
		orchestrator.WithMetrics(e.metrics),
	)
	if err != nil {
		e.close()
		return nil, err
	}

	procOpts := []processor.Option{
		processor.WithLogger(logger),
		processor.WithEventBus(e.bus),
		processor.WithMetrics(e.metrics),
	}
	if cfg.Store.Path != "" {
		e.store, err = persistence.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			e.close()
			return nil, err
		}
		procOpts = append(procOpts, processor.WithStore(e.store))
	}
	e.processor = processor.New(orch, cfg.Processor, procOpts...)
	return e, nil
}

// close drains the pools and releases the store and bus. Safe on a partly built engine.
func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if e.pools != nil {
		if err := e.pools.Shutdown(ctx); err != nil {
			e.logger.Warn("pool shutdown incomplete", zap.Error(err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	e.bus.Close()
}

// killOnCancel kills tracked agent processes once ctx is cancelled.
func killOnCancel(ctx context.Context, pm *backend.ProcessManager, logger *zap.Logger) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		if n := pm.Count(); n > 0 {
			logger.Info("killing agent processes", zap.Int("count", n))
		}
		if err := pm.KillAll(); err != nil {
			logger.Warn("error killing agent processes", zap.Error(err))
		}
	})
}

func runTask(cmd *cobra.Command, g *globalFlags, o *runOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}

	logger := zap.NewNop()
	if !o.dashboard {
		// The dashboard owns the terminal; logs would corrupt it.
		if logger, err = g.logger(cfg); err != nil {
			return err
		}
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, o, logger)
	if err != nil {
		return err
	}
	defer e.close()
	defer killOnCancel(ctx, e.pm, logger)()

	if o.metricsAddr != "" {
		srv := serveMetrics(o.metricsAddr, e.metrics, logger)
		defer srv.Shutdown(context.Background()) //nolint:errcheck
	}

	t := task.Task{
		ID:         uuid.NewString(),
		Type:       o.taskType,
		Content:    o.content,
		Complexity: o.complexity,
		Priority:   task.Priority(o.priority),
	}
	if o.deadline > 0 {
		t.Deadline = time.Now().Add(o.deadline)
	}

	var result task.TaskResult
	if o.dashboard {
		result, err = submitWithDashboard(ctx, e, cfg, t)
	} else {
		result, err = e.processor.Submit(ctx, t)
	}
	if err != nil {
		return err
	}

	if err := printResult(cmd.OutOrStdout(), t, result, o.jsonOutput); err != nil {
		return err
	}
	if !result.Success {
		return errTaskFailed
	}
	return nil
}

func serveMetrics(addr string, c *metrics.Collector, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

type submission struct {
	result task.TaskResult
	err    error
}

// submitWithDashboard runs the task behind the dashboard. Quitting the
// dashboard before the task finishes cancels it.
func submitWithDashboard(ctx context.Context, e *engine, cfg *config.Config, t task.Task) (task.TaskResult, error) {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return task.TaskResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(tui.New(e.bus, cfg, globalPath, projectPath), tea.WithAltScreen())
	defer context.AfterFunc(ctx, prog.Quit)()

	done := make(chan submission, 1)
	go func() {
		r, err := e.processor.Submit(runCtx, t)
		done <- submission{r, err}
	}()

	if _, err := prog.Run(); err != nil {
		cancel()
		<-done
		return task.TaskResult{}, fmt.Errorf("dashboard: %w", err)
	}
	cancel()
	sub := <-done
	return sub.result, sub.err
}

// printResult writes r as indented JSON, or as a short report followed by the merged prose.
func printResult(w io.Writer, t task.Task, r task.TaskResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Task   task.Task       `json:"task"`
			Result task.TaskResult `json:"result"`
		}{t, r})
	}

	md := r.Metadata
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "task\t%s\n", t.ID)
	fmt.Fprintf(tw, "mode\t%s\n", md.Mode)
	fmt.Fprintf(tw, "strategy\t%s\n", md.MergeStrategy)
	if r.Confidence != nil {
		fmt.Fprintf(tw, "confidence\t%.2f\n", *r.Confidence)
	}
	if md.SuccessCount+md.FailureCount > 0 {
		fmt.Fprintf(tw, "microtasks\t%d (%d ok, %d failed)\n", md.MicrotaskCount, md.SuccessCount, md.FailureCount)
	} else {
		fmt.Fprintf(tw, "microtasks\t%d\n", md.MicrotaskCount)
	}
	fmt.Fprintf(tw, "agents\t%d\n", md.AgentCount)
	fmt.Fprintf(tw, "attempts\t%d\n", md.Attempts)
	fmt.Fprintf(tw, "duration\t%v\n", r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if prose := r.Content.Prose(); prose != "" {
		if _, err := fmt.Fprintf(w, "\n%s\n", prose); err != nil {
			return err
		}
	}
	return nil
}
