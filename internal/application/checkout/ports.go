package checkout

import (
	"context"
)

// TransactionManager runs fn atomically, retrying it on datastore conflicts.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
