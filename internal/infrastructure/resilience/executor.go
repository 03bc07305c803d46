package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/cassiomorais/leadflow/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config is the per-call retry policy.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	// HonorRetryAfter lets a downstream's rate-limit hint lengthen the next delay.
	HonorRetryAfter bool
}

// DefaultConfig returns the policy used for AI generation calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Timeout:      30 * time.Second,
	}
}

// VisionConfig is DefaultConfig with room for image analysis.
func VisionConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 90 * time.Second
	return cfg
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

func (c Config) backoff() retry.Backoff {
	return retry.Backoff{
		Initial:    c.InitialDelay,
		Max:        c.MaxDelay,
		Multiplier: c.Multiplier,
		Jitter:     retry.DefaultJitter,
	}
}

// ExecutionError is returned when a call through the executor fails for good.
type ExecutionError struct {
	Downstream string
	Attempts   int
	// Exhausted is set when every attempt failed with a retryable error.
	Exhausted bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s: %v after %d attempts: %v", e.Downstream, domainErrors.ErrRetriesExhausted, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: attempt %d: %v", e.Downstream, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	if e.Exhausted {
		return []error{domainErrors.ErrRetriesExhausted, e.Err}
	}
	return []error{e.Err}
}

// Classifier turns a raw downstream error into a classified one.
type Classifier func(error) error

// Executor runs calls against one downstream behind its circuit breaker,
// retrying retryable failures with jittered exponential backoff.
type Executor struct {
	downstream string
	breaker    *CircuitBreaker
	defaults   Config
	classify   Classifier
	logger     zerolog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	timer      retrygo.Timer

	jitterMu sync.Mutex
	jitter   retry.Source
}

type Option func(*Executor)

func WithClassifier(c Classifier) Option {
	return func(e *Executor) { e.classify = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithJitterSource fixes the jitter draws, mostly for tests.
func WithJitterSource(src retry.Source) Option {
	return func(e *Executor) { e.jitter = src }
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(t retrygo.Timer) Option {
	return func(e *Executor) { e.timer = t }
}

func NewExecutor(downstream string, breaker *CircuitBreaker, defaults Config, opts ...Option) *Executor {
	e := &Executor{
		downstream: downstream,
		breaker:    breaker,
		defaults:   defaults.normalize(),
		classify:   func(err error) error { return err },
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("github.com/cassiomorais/leadflow/resilience"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("downstream", downstream).Logger()
	return e
}

func (e *Executor) Downstream() string { return e.downstream }

// Defaults returns the policy this executor was built with.
func (e *Executor) Defaults() Config { return e.defaults }

func (e *Executor) Breaker() *CircuitBreaker { return e.breaker }

// Do is Execute for operations without a result.
func (e *Executor) Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op under cfg. The breaker is consulted once per call; when it
// rejects, op is never invoked. Each attempt gets its own timeout. Retryable
// failures are retried up to cfg.MaxAttempts; anything else is returned after
// the first attempt.
func Execute[T any](ctx context.Context, e *Executor, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.normalize()

	ctx, span := e.tracer.Start(ctx, "resilience.execute", trace.WithAttributes(
		attribute.String("downstream", e.downstream),
		attribute.Int("max_attempts", cfg.MaxAttempts),
	))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveExecution(e.downstream, time.Since(start)) }()

	done, err := e.breaker.Allow()
	if err != nil {
		span.SetStatus(codes.Error, "circuit open")
		e.logger.Warn().Msg("call rejected, circuit open")
		return zero, err
	}

	var (
		attempts int
		lastErr  error
	)
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(cfg.MaxAttempts)),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(_ uint, _ error, _ *retrygo.Config) time.Duration {
			return e.delay(cfg, attempts, lastErr)
		}),
		retrygo.OnRetry(func(_ uint, err error) {
			e.logger.Debug().Err(err).Int("attempt", attempts).Msg("retrying call")
		}),
	}
	if e.timer != nil {
		opts = append(opts, retrygo.WithTimer(e.timer))
	}

	result, err := retrygo.DoWithData(func() (T, error) {
		attempts++
		v, err := runAttempt(ctx, e, cfg, attempts, op)
		if err == nil {
			e.metrics.ObserveAttempt(e.downstream, "success")
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !domainErrors.IsRetryable(err) {
			e.metrics.ObserveAttempt(e.downstream, "fatal")
			return v, retrygo.Unrecoverable(err)
		}
		e.metrics.ObserveAttempt(e.downstream, domainErrors.KindOf(err).String())
		return v, err
	}, opts...)

	if err == nil {
		done(nil)
		span.SetAttributes(attribute.Int("attempts", attempts))
		return result, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	// A caller that gave up says nothing about the downstream.
	if errors.Is(ctx.Err(), context.Canceled) {
		done(ctx.Err())
	} else {
		done(lastErr)
	}

	execErr := &ExecutionError{
		Downstream: e.downstream,
		Attempts:   attempts,
		Exhausted:  attempts >= cfg.MaxAttempts && ctx.Err() == nil && domainErrors.IsRetryable(lastErr),
		Err:        lastErr,
	}
	span.RecordError(execErr)
	span.SetStatus(codes.Error, domainErrors.KindOf(lastErr).String())
	e.logger.Warn().Err(lastErr).
		Int("attempts", attempts).
		Str("kind", domainErrors.KindOf(lastErr).String()).
		Bool("exhausted", execErr.Exhausted).
		Msg("call failed")
	return zero, execErr
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt races op against the attempt deadline. An op that ignores its
// context is abandoned once the deadline passes.
func runAttempt[T any](ctx context.Context, e *Executor, cfg Config, attempt int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ch := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult[T]{err: fmt.Errorf("%s: panic: %v", e.downstream, r)}
			}
		}()
		v, err := op(attemptCtx)
		ch <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-ch:
		if res.err == nil {
			return res.value, nil
		}
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, domainErrors.Timeout(e.downstream, fmt.Errorf("attempt %d exceeded %s: %w", attempt, cfg.Timeout, res.err))
		}
		return zero, e.classify(res.err)
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", e.downstream, err)
		}
		return zero, domainErrors.Timeout(e.downstream, fmt.Errorf("attempt %d exceeded %s", attempt, cfg.Timeout))
	}
}

// delay computes the wait after the given failed attempt. A rate-limit hint
// replaces a shorter computed delay only when the policy honors it.
func (e *Executor) delay(cfg Config, attempt int, lastErr error) time.Duration {
	e.jitterMu.Lock()
	d := cfg.backoff().Delay(attempt, e.jitter)
	e.jitterMu.Unlock()

	if hint, ok := domainErrors.RetryAfterOf(lastErr); ok {
		if cfg.HonorRetryAfter && hint > d {
			d = hint
		} else {
			e.logger.Debug().Dur("retry_after", hint).Dur("delay", d).Msg("retry-after hint not applied")
		}
	}
	return d
}
