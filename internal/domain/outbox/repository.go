package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the outbox table. Producers Insert inside the transaction
// that changes the aggregate; the relay claims, publishes and marks.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error

	// ClaimPending leases up to limit pending entries, oldest first, until
	// now+lease. A claimed entry is not handed to another relay before its
	// lease runs out or it is marked.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed counts a failed publish and drops the claim. The entry stays
	// pending until RetryCount reaches MaxRetries.
	MarkFailed(ctx context.Context, id uuid.UUID) error
}
