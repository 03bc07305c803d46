package processor

import "time"

// EventKind names the processor events the reconciler understands.
type EventKind string

const (
	EventCheckoutCompleted      EventKind = "checkout.session.completed"
	EventCheckoutExpired        EventKind = "checkout.session.expired"
	EventPaymentIntentSucceeded EventKind = "payment_intent.succeeded"
	EventPaymentIntentFailed    EventKind = "payment_intent.payment_failed"
	EventChargeRefunded         EventKind = "charge.refunded"
)

// Event is a verified webhook, reduced to the fields reconciliation reads.
// Exactly one of Checkout, PaymentIntent and Charge is set for known kinds.
type Event struct {
	ID            string             `json:"id"`
	Kind          EventKind          `json:"type"`
	CreatedAt     time.Time          `json:"created_at"`
	Checkout      *CheckoutData      `json:"checkout,omitempty"`
	PaymentIntent *PaymentIntentData `json:"payment_intent,omitempty"`
	Charge        *ChargeData        `json:"charge,omitempty"`
}

type CheckoutData struct {
	SessionID       string            `json:"session_id"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	PaymentStatus   string            `json:"payment_status,omitempty"`
	AmountTotal     int64             `json:"amount_total,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type PaymentIntentData struct {
	ID             string            `json:"id"`
	AmountReceived int64             `json:"amount_received,omitempty"`
	ChargeID       string            `json:"charge_id,omitempty"`
	ReceiptURL     string            `json:"receipt_url,omitempty"`
	FailureCode    string            `json:"failure_code,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type ChargeData struct {
	ID              string            `json:"id"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	AmountRefunded  int64             `json:"amount_refunded,omitempty"`
	Refunded        bool              `json:"refunded"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
