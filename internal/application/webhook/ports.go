package webhook

import (
	"context"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/outbox"
)

// TransactionManager runs fn atomically. WithOptimisticLock uses a stricter
// isolation level and retries lost version checks.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	WithOptimisticLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventStore records processed webhook events by processor event id.
type EventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, kind, outcome string) error
}

// Locker serializes concurrent deliveries of one event across instances.
// Acquire returns errors.ErrLockAcquisitionFailed when someone else holds key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// OutboxWriter stores integration events inside the caller's transaction.
type OutboxWriter interface {
	Insert(ctx context.Context, entry *outbox.Entry) error
}
