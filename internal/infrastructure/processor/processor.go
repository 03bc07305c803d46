package processor

import (
	"context"
	"time"
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// PaymentStatusPaid is the session payment status once funds were captured.
const PaymentStatusPaid = "paid"

// Session is a hosted checkout page at the processor.
type Session struct {
	ID              string
	URL             string
	Status          SessionStatus
	PaymentStatus   string
	PaymentIntentID string
	CustomerID      string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
	ExpiresAt       time.Time
}

type CustomerParams struct {
	Name  string
	Email string
	// IdempotencyKey makes repeated calls return the same customer.
	IdempotencyKey string
	Metadata       map[string]string
}

type SessionParams struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	// ClientReference is our payment id; it also travels in Metadata.
	ClientReference string
	IdempotencyKey  string
	Metadata        map[string]string
	ExpiresAt       time.Time
}

// Processor is the payment processor port used by checkout.
type Processor interface {
	// Name returns the processor name.
	Name() string
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error)
}

// EventParser authenticates and decodes a webhook delivery.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// Gateway is a processor that also receives its own webhooks.
type Gateway interface {
	Processor
	EventParser
}
