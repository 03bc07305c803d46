package testutil

import (
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/lead"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/google/uuid"
)

func NewTestLead() *lead.Lead {
	return &lead.Lead{
		ID:        uuid.New(),
		Name:      "Dana Roofing Client",
		Email:     "dana@example.com",
		CreatedAt: time.Now().UTC(),
	}
}

// NewTestEstimate returns a sent estimate for leadID, expiring in a week.
func NewTestEstimate(leadID uuid.UUID, totalCents int64, depositPct float64) *estimate.Estimate {
	now := time.Now().UTC()
	expires := now.Add(7 * 24 * time.Hour)
	return &estimate.Estimate{
		ID:                uuid.New(),
		LeadID:            leadID,
		ContractorID:      uuid.New(),
		Status:            estimate.StatusSent,
		Total:             totalCents,
		Currency:          "usd",
		ExpiresAt:         &expires,
		DepositPercentage: depositPct,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func NewTestPayment(estimateID uuid.UUID, paymentType payment.Type, amountCents int64) *payment.Payment {
	now := time.Now().UTC()
	return &payment.Payment{
		ID:         uuid.New(),
		EstimateID: estimateID,
		Amount:     payment.Amount{ValueCents: amountCents, Currency: "usd"},
		Type:       paymentType,
		Status:     payment.StatusPending,
		Metadata:   make(map[string]any),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewCompletedPayment returns a payment that was already settled.
func NewCompletedPayment(estimateID uuid.UUID, paymentType payment.Type, amountCents int64) *payment.Payment {
	p := NewTestPayment(estimateID, paymentType, amountCents)
	p.Status = payment.StatusCompleted
	paidAt := time.Now().UTC()
	p.PaidAt = &paidAt
	return p
}

func StrPtr(s string) *string {
	return &s
}
