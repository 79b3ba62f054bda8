// Package metrics exposes Prometheus collectors for submissions, microtask
// attempts and agent pools. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parallel_agents"

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeReject  = "rejected" // circuit open or no agent assigned
)

// Collector owns a private registry so tests and embedders never collide
// with the global default registry.
type Collector struct {
	registry *prometheus.Registry

	submissions       *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	confidence        prometheus.Histogram
	attempts          *prometheus.CounterVec
	retries           *prometheus.CounterVec
	microtasks        *prometheus.CounterVec
	microtaskDuration *prometheus.HistogramVec
	poolSize          *prometheus.GaugeVec
	poolBusy          *prometheus.GaugeVec
}

// New creates a collector with Go runtime metrics registered alongside.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Tasks submitted, by processing mode and merge strategy.",
		}, []string{"mode", "merge_strategy"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from submission to merged result.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "result_confidence",
			Help:      "Confidence of merged results.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "microtask_attempts_total",
			Help:      "Microtask attempts by agent type and outcome.",
		}, []string{"agent_type", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "microtask_retries_total",
			Help:      "Microtask attempts beyond the first.",
		}, []string{"agent_type"}),
		microtasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "microtasks_total",
			Help:      "Microtasks reaching a terminal state.",
		}, []string{"agent_type", "status"}),
		microtaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "microtask_attempt_duration_seconds",
			Help:      "Duration of a single agent call.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"agent_type"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_agents",
			Help:      "Agents in each pool.",
		}, []string{"agent_type"}),
		poolBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_busy_agents",
			Help:      "Agents currently executing a microtask.",
		}, []string{"agent_type"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		c.submissions,
		c.taskDuration,
		c.confidence,
		c.attempts,
		c.retries,
		c.microtasks,
		c.microtaskDuration,
		c.poolSize,
		c.poolBusy,
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TaskFinished records a merged submission.
func (c *Collector) TaskFinished(mode, mergeStrategy string, confidence float64, d time.Duration) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(mode, mergeStrategy).Inc()
	c.taskDuration.WithLabelValues(mode).Observe(d.Seconds())
	c.confidence.Observe(confidence)
}

// AttemptFinished records one agent call. Attempts after the first count as retries.
func (c *Collector) AttemptFinished(agentType string, attempt int, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(agentType, outcome).Inc()
	if attempt > 1 {
		c.retries.WithLabelValues(agentType).Inc()
	}
	if outcome != OutcomeReject {
		c.microtaskDuration.WithLabelValues(agentType).Observe(d.Seconds())
	}
}

// MicrotaskFinished records a microtask reaching completed or failed.
func (c *Collector) MicrotaskFinished(agentType string, success bool) {
	if c == nil {
		return
	}
	status := "completed"
	if !success {
		status = "failed"
	}
	c.microtasks.WithLabelValues(agentType, status).Inc()
}

// PoolChanged records the size and busy count of a pool.
func (c *Collector) PoolChanged(agentType string, size, busy int) {
	if c == nil {
		return
	}
	c.poolSize.WithLabelValues(agentType).Set(float64(size))
	c.poolBusy.WithLabelValues(agentType).Set(float64(busy))
}
