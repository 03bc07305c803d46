package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment persistence.
// The Find* lookups report a missing row through found=false rather than an error.
type Repository interface {
	// Create creates a new payment
	Create(ctx context.Context, payment *Payment) error

	// GetByID retrieves a payment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	FindByIdempotencyKey(ctx context.Context, estimateID uuid.UUID, key string) (*Payment, bool, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (*Payment, bool, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*Payment, bool, error)
	FindByChargeID(ctx context.Context, chargeID string) (*Payment, bool, error)

	// ListByEstimate lists an estimate's payments, optionally restricted to one status
	ListByEstimate(ctx context.Context, estimateID uuid.UUID, status *Status) ([]*Payment, error)

	// Update persists p if its version still matches, then bumps p.Version
	Update(ctx context.Context, payment *Payment) error

	// AddEvent adds a payment event for audit trail
	AddEvent(ctx context.Context, event *PaymentEvent) error

	// GetEvents retrieves events for a payment
	GetEvents(ctx context.Context, paymentID uuid.UUID) ([]*PaymentEvent, error)
}

// PaymentEvent represents an event in the payment lifecycle
type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EventType string
	EventData map[string]any
	CreatedAt time.Time
}

// NewEvent builds an audit event for p.
func NewEvent(p *Payment, eventType string, data map[string]any) *PaymentEvent {
	if data == nil {
		data = make(map[string]any)
	}
	data["status"] = string(p.Status)
	return &PaymentEvent{
		ID:        uuid.New(),
		PaymentID: p.ID,
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now().UTC(),
	}
}
