package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/pool"
)

// BreakerSettings shapes the per-agent-type circuit breakers.
type BreakerSettings struct {
	FailureThreshold uint32        // Consecutive failed attempts that open the circuit; 0 disables tripping
	OpenTimeout      time.Duration // How long the circuit stays open before probing
	HalfOpenRequests uint32        // Probe attempts allowed while half-open
}

// DefaultBreakerSettings returns the default circuit breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// BreakerRegistry holds one circuit breaker per agent type.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	logger   *zap.Logger
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

// NewBreakerRegistry creates an empty registry. Breakers are created on first use.
func NewBreakerRegistry(settings BreakerSettings, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}
}

// Get returns the breaker for agentType, creating it if needed.
func (r *BreakerRegistry) Get(agentType string) *gobreaker.TwoStepCircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentType]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        agentType,
		MaxRequests: r.settings.HalfOpenRequests,
		Interval:    0, // Counts are only cleared on state change
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("agent_type", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	r.breakers[agentType] = cb
	return cb
}

// State reports the breaker state for agentType without creating one.
func (r *BreakerRegistry) State(agentType string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentType]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// newRetryPolicy builds the backoff between attempts of one microtask:
// exponential with jitter, at most maxRetries re-attempts.
func newRetryPolicy(cfg config.RetryConfig, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval.Std()
	b.MaxInterval = cfg.MaxInterval.Std()
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.RandomizationFactor
	b.MaxElapsedTime = 0 // Bounded by the retry count
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(maxRetries, 0)))
}

// isPermanent reports failures that another attempt cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, pool.ErrUnknownPool) ||
		errors.Is(err, pool.ErrPoolUnavailable)
}
