package lead

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lead is a prospective customer of a contractor.
type Lead struct {
	ID    uuid.UUID
	Name  string
	Email string
	// ExternalCustomerID is the payment processor's customer id, set once on first checkout.
	ExternalCustomerID *string
	CreatedAt          time.Time
}

// HasCustomer reports whether the lead already has a processor customer record.
func (l *Lead) HasCustomer() bool {
	return l.ExternalCustomerID != nil && *l.ExternalCustomerID != ""
}

// Repository defines the interface for lead persistence
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	SetExternalCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}
