package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ctxKey is an unexported type for context keys in this package.
type ctxKey int

const txKey ctxKey = iota

// DBTX is the common query interface satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Transactor runs fn as one unit of work. *TxManager satisfies it.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions bound every transaction the manager opens.
type TxOptions struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// MaxRetries is the total number of attempts made on conflicts.
	MaxRetries     int
	IsolationLevel pgx.TxIsoLevel
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		IsolationLevel: pgx.ReadCommitted,
	}
}

type TxOption func(*TxOptions)

func WithTimeout(d time.Duration) TxOption {
	return func(o *TxOptions) { o.Timeout = d }
}

func WithMaxRetries(n int) TxOption {
	return func(o *TxOptions) { o.MaxRetries = n }
}

func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(o *TxOptions) { o.IsolationLevel = level }
}

const (
	conflictBaseDelay = 100 * time.Millisecond
	conflictMaxDelay  = time.Second
)

// TxManager runs functions inside database transactions, carrying the
// transaction in the context so repositories join it through ConnFromCtx.
// Conflicting transactions (deadlocks, serialization failures, stale
// versions) are rolled back and retried from scratch.
type TxManager struct {
	db      Beginner
	opts    TxOptions
	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	// timer paces conflict retries; nil uses retry-go's real timer.
	timer retrygo.Timer
}

// NewTxManager creates a new transaction manager. metrics may be nil.
func NewTxManager(db Beginner, logger zerolog.Logger, metrics *observability.Metrics, opts ...TxOption) *TxManager {
	o := DefaultTxOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TxManager{
		db:      db,
		opts:    o,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/cassiomorais/leadflow/postgres"),
	}
}

// With returns a copy of the manager with the given options applied on top.
func (m *TxManager) With(opts ...TxOption) *TxManager {
	c := *m
	for _, opt := range opts {
		opt(&c.opts)
	}
	return &c
}

func (m *TxManager) Options() TxOptions {
	return m.opts
}

// WithTransaction executes fn inside a database transaction.
// The transaction is committed if fn returns nil, rolled back otherwise.
// A call made while a transaction is already in ctx runs fn inside it and
// leaves retrying to the outermost call.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromCtx(ctx); ok {
		return fn(ctx)
	}

	ctx, span := m.tracer.Start(ctx, "postgres.transaction", trace.WithAttributes(
		attribute.String("isolation", string(m.opts.IsolationLevel)),
	))
	defer span.End()

	maxAttempts := m.opts.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		attempts int
		lastErr  error
	)
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(maxAttempts)),
		retrygo.RetryIf(IsConflict),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return ConflictDelay(int(n))
		}),
		retrygo.OnRetry(func(n uint, err error) {
			if int(n)+1 < maxAttempts {
				m.logger.Warn().Err(err).
					Int("attempt", int(n)+1).
					Dur("delay", ConflictDelay(int(n)+1)).
					Msg("transaction conflict, retrying")
			}
		}),
	}
	if m.timer != nil {
		opts = append(opts, retrygo.WithTimer(m.timer))
	}

	err := retrygo.Do(func() error {
		attempts++
		err := m.runOnce(ctx, fn)
		if err != nil && IsConflict(err) {
			lastErr = err
			m.metrics.ObserveTransaction("conflict")
		}
		return err
	}, opts...)

	switch {
	case err == nil:
		m.metrics.ObserveTransaction("committed")
		span.SetAttributes(attribute.Int("attempts", attempts))
		return nil
	case lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("waiting to retry transaction: %w (last conflict: %v)", ctx.Err(), lastErr)
	case !IsConflict(err):
		m.metrics.ObserveTransaction("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		return err
	}

	m.metrics.ObserveTransaction("exhausted")
	span.SetStatus(codes.Error, "retries exhausted")
	return fmt.Errorf("%w after %d attempts: %w", domainErrors.ErrTransactionRetriesExhausted, attempts, lastErr)
}

// WithOptimisticLock runs fn at repeatable read. Repositories condition their
// writes on row versions, and a lost race surfaces as ErrOptimisticLockFailed
// or a serialization failure, both of which are retried.
func (m *TxManager) WithOptimisticLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.With(WithIsolation(pgx.RepeatableRead)).WithTransaction(ctx, fn)
}

func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	tx, err := m.db.BeginTx(attemptCtx, pgx.TxOptions{IsoLevel: m.opts.IsolationLevel})
	if err != nil {
		return m.timeoutOr(ctx, attemptCtx, fmt.Errorf("begin tx: %w", err))
	}

	// rollback must still reach the server when the caller's ctx is done
	rollbackCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(attemptCtx, txKey, tx)); err != nil {
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed (%v) after error: %w", rbErr, err)
		}
		return m.timeoutOr(ctx, attemptCtx, err)
	}

	if err := tx.Commit(attemptCtx); err != nil {
		return m.timeoutOr(ctx, attemptCtx, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// timeoutOr reports err as a Timeout when the attempt's own deadline, not the
// caller's, cut it short.
func (m *TxManager) timeoutOr(parent, attemptCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return domainErrors.Timeout("postgres.transaction", err)
	}
	return err
}

// RunInTx is WithTransaction for functions that produce a value.
func RunInTx[T any](ctx context.Context, m Transactor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.WithTransaction(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExecuteBatched commits items in chunks of size, one transaction per chunk,
// and returns how many items were committed before the first failure.
func ExecuteBatched[T any](ctx context.Context, m Transactor, items []T, size int, fn func(ctx context.Context, batch []T) error) (int, error) {
	if size <= 0 {
		size = len(items)
	}
	committed := 0
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := items[start:end]
		if err := m.WithTransaction(ctx, func(ctx context.Context) error {
			return fn(ctx, batch)
		}); err != nil {
			return committed, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		committed = end
	}
	return committed, nil
}

// ConflictDelay is the wait before retrying after the given failed attempt:
// 100ms doubling per attempt, capped at one second.
func ConflictDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return conflictMaxDelay
	}
	d := conflictBaseDelay << (attempt - 1)
	return min(d, conflictMaxDelay)
}

// TxFromCtx returns the transaction carried by ctx, if any.
func TxFromCtx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// ConnFromCtx returns the transaction from context if present, otherwise the fallback.
func ConnFromCtx(ctx context.Context, fallback DBTX) DBTX {
	if tx, ok := TxFromCtx(ctx); ok {
		return tx
	}
	return fallback
}
