package estimate

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for estimate persistence
type Repository interface {
	// GetByID loads the estimate together with its contractor's deposit percentage
	GetByID(ctx context.Context, id uuid.UUID) (*Estimate, error)

	// Update persists e if its version still matches, then bumps e.Version.
	// A version mismatch returns errors.ErrOptimisticLockFailed.
	Update(ctx context.Context, e *Estimate) error
}
