package controller

import (
	"time"

	"github.com/cassiomorais/leadflow/internal/application/checkout"
	"github.com/cassiomorais/leadflow/internal/application/webhook"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
)

// --- Request DTOs ---
// Money arrives as a float in major units and is converted to minor units
// before it reaches a use case.

// CheckoutRequest starts a checkout on an estimate.
type CheckoutRequest struct {
	PaymentType string `json:"payment_type" validate:"required,oneof=deposit final milestone"`
	// Amount is required for milestone payments and ignored otherwise.
	Amount *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}

// GenerateRequest asks the AI service for a completion.
type GenerateRequest struct {
	System    string   `json:"system" validate:"max=4000"`
	Prompt    string   `json:"prompt" validate:"required,max=16000"`
	ImageURLs []string `json:"image_urls,omitempty" validate:"omitempty,max=4,dive,url"`
}

// --- Response DTOs ---

type CheckoutResponse struct {
	PaymentID  string  `json:"payment_id"`
	SessionID  string  `json:"session_id"`
	SessionURL string  `json:"session_url"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status"`
	Replayed   bool    `json:"replayed"`
}

type PaymentResponse struct {
	ID                 string          `json:"id"`
	EstimateID         string          `json:"estimate_id"`
	PaymentType        string          `json:"payment_type"`
	Amount             float64         `json:"amount"`
	Currency           string          `json:"currency"`
	Status             string          `json:"status"`
	ExternalCheckoutID *string         `json:"external_checkout_id,omitempty"`
	ExternalIntentID   *string         `json:"external_payment_intent_id,omitempty"`
	ExternalChargeID   *string         `json:"external_charge_id,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	Events             []EventResponse `json:"events,omitempty"`
}

type EventResponse struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromCheckout(r *checkout.CreateCheckoutResponse) *CheckoutResponse {
	return &CheckoutResponse{
		PaymentID:  r.PaymentID.String(),
		SessionID:  r.SessionID,
		SessionURL: r.SessionURL,
		Amount:     centsToFloat(r.Amount),
		Currency:   r.Currency,
		Status:     string(r.Status),
		Replayed:   r.Replayed,
	}
}

// FromPayment converts a domain payment to API response.
func FromPayment(p *payment.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:                 p.ID.String(),
		EstimateID:         p.EstimateID.String(),
		PaymentType:        string(p.Type),
		Amount:             centsToFloat(p.Amount.ValueCents),
		Currency:           p.Amount.Currency,
		Status:             string(p.Status),
		ExternalCheckoutID: p.ExternalCheckoutID,
		ExternalIntentID:   p.ExternalPaymentIntentID,
		ExternalChargeID:   p.ExternalChargeID,
		Metadata:           p.Metadata,
		Version:            p.Version,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		PaidAt:             p.PaidAt,
	}
}

func FromPaymentView(v *checkout.PaymentView) *PaymentResponse {
	resp := FromPayment(v.Payment)
	resp.Events = make([]EventResponse, 0, len(v.Events))
	for _, e := range v.Events {
		resp.Events = append(resp.Events, EventResponse{Type: e.EventType, Data: e.EventData, CreatedAt: e.CreatedAt})
	}
	return resp
}

func FromResult(r webhook.Result) *WebhookResponse {
	return &WebhookResponse{Received: true, Outcome: string(r.Outcome)}
}
