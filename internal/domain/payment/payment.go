package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/google/uuid"
)

// Type is what the payment settles on its estimate.
type Type string

const (
	TypeDeposit   Type = "deposit"
	TypeFinal     Type = "final"
	TypeMilestone Type = "milestone"
)

// Valid reports whether t is a known payment type.
func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeFinal, TypeMilestone:
		return true
	}
	return false
}

// Status represents the payment status in the state machine
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Metadata keys written by the reconciler.
const (
	MetaCheckoutURL    = "checkout_url"
	MetaCustomerID     = "customer_id"
	MetaFailureReason  = "failure_reason"
	MetaReceiptURL     = "receipt_url"
	MetaAmountReceived = "amount_received"
	MetaRefundAmount   = "refund_amount"
	MetaRefundedAt     = "refunded_at"
	// MetaPaymentID is the key under which our payment id travels in processor-side metadata.
	MetaPaymentID = "payment_id"
)

// Payment is one checkout attempt against an estimate. Rows are never deleted.
type Payment struct {
	ID                      uuid.UUID
	EstimateID              uuid.UUID
	Amount                  Amount
	Type                    Type
	Status                  Status
	ExternalCheckoutID      *string
	ExternalPaymentIntentID *string
	ExternalChargeID        *string
	IdempotencyKey          *string
	Metadata                map[string]any
	PaidAt                  *time.Time
	Version                 int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, strings.ToUpper(a.Currency))
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// NewPayment creates a pending payment. An empty idempotencyKey means the caller supplied none.
func NewPayment(estimateID uuid.UUID, paymentType Type, amount Amount, idempotencyKey string) (*Payment, error) {
	if estimateID == uuid.Nil {
		return nil, errors.NewValidationError("estimate_id", "is required")
	}
	if !paymentType.Valid() {
		return nil, errors.NewDomainError("invalid_payment_type", "unknown payment type "+string(paymentType), errors.ErrInvalidPaymentType)
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	now := time.Now().UTC()
	return &Payment{
		ID:             uuid.New(),
		EstimateID:     estimateID,
		Amount:         amount,
		Type:           paymentType,
		Status:         StatusPending,
		IdempotencyKey: key,
		Metadata:       make(map[string]any),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending: {
		StatusProcessing,
		StatusCompleted, // intent succeeded before checkout completed
		StatusFailed,
	},
	StatusProcessing: {
		StatusCompleted,
		StatusFailed,
		StatusRefunded,
	},
	StatusCompleted: {
		StatusRefunded,
	},
	StatusFailed: {
		StatusProcessing, // a new intent attempt inside the same session
		StatusCompleted,
	},
	StatusRefunded: {}, // Terminal state
}

// rank orders the forward path; failed sits outside it.
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusRefunded:   3,
}

// CanTransitionTo checks if the payment can transition to the given status
func (p *Payment) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range transitions[p.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the payment to a new status
func (p *Payment) TransitionTo(newStatus Status, at time.Time) error {
	if !p.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = newStatus
	p.UpdatedAt = at
	return nil
}

// IsStale reports whether moving to next would be a step backwards, as happens
// when a webhook is redelivered or arrives after a later one.
func (p *Payment) IsStale(next Status) bool {
	switch {
	case next == StatusPending:
		return p.Status != StatusPending
	case next == StatusFailed:
		return p.Status == StatusCompleted || p.Status == StatusRefunded
	case p.Status == StatusFailed:
		return false
	default:
		return rank[next] < rank[p.Status]
	}
}

// Advance applies a webhook-driven transition. Same-status and stale moves are
// no-ops reported with changed=false.
func (p *Payment) Advance(next Status, at time.Time) (changed bool, err error) {
	if p.Status == next {
		return false, nil
	}
	if p.CanTransitionTo(next) {
		return true, p.TransitionTo(next, at)
	}
	if p.IsStale(next) {
		return false, nil
	}
	return false, p.TransitionTo(next, at)
}

// MarkProcessing records that the checkout session completed.
func (p *Payment) MarkProcessing(at time.Time) (bool, error) {
	return p.Advance(StatusProcessing, at)
}

// MarkCompleted records the successful charge and stamps PaidAt once.
func (p *Payment) MarkCompleted(at time.Time) (bool, error) {
	changed, err := p.Advance(StatusCompleted, at)
	if err != nil || !changed {
		return changed, err
	}
	if p.PaidAt == nil {
		paidAt := at
		p.PaidAt = &paidAt
	}
	return true, nil
}

// MarkFailed moves the payment to failed and keeps reason in metadata.
func (p *Payment) MarkFailed(reason string, at time.Time) (bool, error) {
	changed, err := p.Advance(StatusFailed, at)
	if err != nil || !changed {
		return changed, err
	}
	if reason != "" {
		p.ensureMetadata()
		p.Metadata[MetaFailureReason] = reason
	}
	return true, nil
}

// MarkRefunded moves the payment to refunded and records the refunded amount.
func (p *Payment) MarkRefunded(amountCents int64, at time.Time) (bool, error) {
	changed, err := p.Advance(StatusRefunded, at)
	if err != nil || !changed {
		return changed, err
	}
	p.ensureMetadata()
	p.Metadata[MetaRefundAmount] = amountCents
	p.Metadata[MetaRefundedAt] = at.UTC().Format(time.RFC3339)
	return true, nil
}

// AttachCheckout records the processor session created for this payment.
func (p *Payment) AttachCheckout(sessionID, url string, at time.Time) {
	p.ExternalCheckoutID = &sessionID
	p.ensureMetadata()
	p.Metadata[MetaCheckoutURL] = url
	p.UpdatedAt = at
}

// CheckoutURL returns the recorded session URL, or "" when none was recorded.
func (p *Payment) CheckoutURL() string {
	url, _ := p.Metadata[MetaCheckoutURL].(string)
	return url
}

// SetPaymentIntentID records id unless one is already known. It reports whether anything changed.
func (p *Payment) SetPaymentIntentID(id string) bool {
	if id == "" || (p.ExternalPaymentIntentID != nil && *p.ExternalPaymentIntentID == id) {
		return false
	}
	p.ExternalPaymentIntentID = &id
	return true
}

// SetChargeID records the processor charge id.
func (p *Payment) SetChargeID(id string) bool {
	if id == "" || (p.ExternalChargeID != nil && *p.ExternalChargeID == id) {
		return false
	}
	p.ExternalChargeID = &id
	return true
}

// MergeMetadata copies non-empty values into the metadata bag.
func (p *Payment) MergeMetadata(values map[string]string) bool {
	p.ensureMetadata()
	changed := false
	for k, v := range values {
		if v == "" {
			continue
		}
		if cur, ok := p.Metadata[k].(string); ok && cur == v {
			continue
		}
		p.Metadata[k] = v
		changed = true
	}
	return changed
}

// IsTerminal checks if the payment is in a terminal state
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusRefunded
}

func (p *Payment) ensureMetadata() {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
}

func validateAmount(amount Amount) error {
	if amount.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	// Simple currency validation (3-letter code)
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
