package resilience

import (
	"sort"
	"sync"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Downstream names used for breakers, metrics and logs.
const (
	DownstreamAI        = "ai"
	DownstreamProcessor = "payment_processor"
)

// Registry holds one breaker per downstream so every executor for the same
// downstream shares its failure history.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

func NewRegistry(logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		metrics:  metrics,
	}
}

// Breaker returns the breaker for s.Name, creating it on first use. Settings
// passed on later calls are ignored.
func (r *Registry) Breaker(s BreakerSettings) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[s.Name]; ok {
		return b
	}
	b := NewCircuitBreaker(s, r.logger, r.metrics)
	r.breakers[s.Name] = b
	return b
}

// Executor builds an executor for the named downstream from its config section.
func (r *Registry) Executor(name string, c config.ExecutorConfig, opts ...Option) *Executor {
	breaker := r.Breaker(BreakerSettings{
		Name:             name,
		FailureThreshold: c.BreakerThreshold,
		Cooldown:         c.BreakerCooldown,
	})
	base := []Option{WithLogger(r.logger), WithMetrics(r.metrics)}
	return NewExecutor(name, breaker, ConfigFrom(c), append(base, opts...)...)
}

// Snapshots lists every breaker, sorted by name.
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConfigFrom maps a config section onto an executor policy.
func ConfigFrom(c config.ExecutorConfig) Config {
	return Config{
		MaxAttempts:     c.MaxAttempts,
		InitialDelay:    c.InitialDelay,
		MaxDelay:        c.MaxDelay,
		Multiplier:      c.Multiplier,
		Timeout:         c.Timeout,
		HonorRetryAfter: c.HonorRetryAfter,
	}
}
