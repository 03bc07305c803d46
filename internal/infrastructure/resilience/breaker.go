package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's numbering, which is also what the state gauge reports.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// BreakerSettings configures one breaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	FailureThreshold    uint32     `json:"failure_threshold"`
	Cooldown            string     `json:"cooldown"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// CircuitBreaker guards one downstream. It trips after FailureThreshold
// consecutive failures, rejects calls for Cooldown, then lets a single trial call
// through; the trial's outcome closes or re-opens it.
type CircuitBreaker struct {
	settings BreakerSettings
	cb       *gobreaker.TwoStepCircuitBreaker[struct{}]
	logger   zerolog.Logger
	metrics  *observability.Metrics

	failures    atomic.Uint32
	lastFailure atomic.Int64
	// generation advances on every state change. Outcomes of calls admitted
	// in an earlier generation do not touch failures, matching gobreaker.
	generation atomic.Uint64
}

// NewCircuitBreaker builds a breaker. metrics may be nil.
func NewCircuitBreaker(s BreakerSettings, logger zerolog.Logger, metrics *observability.Metrics) *CircuitBreaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = time.Minute
	}

	b := &CircuitBreaker{
		settings: s,
		logger:   logger.With().Str("breaker", s.Name).Logger(),
		metrics:  metrics,
	}
	threshold := s.FailureThreshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsExcluded:    excluded,
		OnStateChange: b.onStateChange,
	})
	metrics.SetBreakerState(s.Name, float64(StateClosed))
	return b
}

// Name returns the downstream this breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.settings.Name
}

// Allow admits one call. The returned done func must be called exactly once
// with the call's error, nil on success. A rejected call returns a
// CircuitOpen error.
func (b *CircuitBreaker) Allow() (func(err error), error) {
	done, err := b.cb.Allow()
	if err != nil {
		b.metrics.ObserveBreakerRequest(b.settings.Name, "rejected")
		return nil, domainErrors.E(domainErrors.KindCircuitOpen, b.settings.Name,
			"failing fast while downstream recovers", domainErrors.ErrCircuitOpen)
	}
	gen := b.generation.Load()
	return func(err error) {
		current := b.generation.Load() == gen
		switch {
		case err == nil:
			if current {
				b.failures.Store(0)
			}
			b.metrics.ObserveBreakerRequest(b.settings.Name, "success")
		case excluded(err):
			b.metrics.ObserveBreakerRequest(b.settings.Name, "excluded")
		default:
			if current {
				b.failures.Add(1)
				b.lastFailure.Store(time.Now().UnixNano())
			}
			b.metrics.ObserveBreakerRequest(b.settings.Name, "failure")
		}
		done(err)
	}, nil
}

// excluded reports outcomes that say nothing about the downstream's health.
func excluded(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsOpen reports whether calls are being rejected. Once the cooldown has
// elapsed the breaker reports not-open and moves to half-open.
func (b *CircuitBreaker) IsOpen() bool {
	return b.State() == StateOpen
}

// State returns the current state, computing the half-open transition lazily.
func (b *CircuitBreaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ConsecutiveFailures counts failures since the last success.
func (b *CircuitBreaker) ConsecutiveFailures() uint32 {
	return b.failures.Load()
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	snap := BreakerSnapshot{
		Name:                b.settings.Name,
		State:               b.State().String(),
		ConsecutiveFailures: b.failures.Load(),
		FailureThreshold:    b.settings.FailureThreshold,
		Cooldown:            b.settings.Cooldown.String(),
	}
	if ns := b.lastFailure.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastFailureAt = &t
	}
	return snap
}

// onStateChange runs under gobreaker's lock and must not call back into the breaker.
func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.generation.Add(1)
	b.metrics.SetBreakerState(name, float64(to))
	ev := b.logger.Info()
	if to == gobreaker.StateOpen {
		ev = b.logger.Warn()
	}
	ev.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
}
