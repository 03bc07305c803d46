package estimate

import (
	"math"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/google/uuid"
)

// Status is the lifecycle state of an estimate sent to a lead.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

// Estimate is a priced proposal from a contractor to a lead. Totals are in minor units.
type Estimate struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	ContractorID uuid.UUID
	Status       Status
	Total        int64
	Currency     string
	ExpiresAt    *time.Time
	AcceptedAt   *time.Time
	// DepositPercentage is the contractor's deposit rate, 0-100, joined in on read.
	DepositPercentage float64
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CheckPayable rejects estimates a lead may not pay against at instant now.
func (e *Estimate) CheckPayable(now time.Time) error {
	if e.Status != StatusSent && e.Status != StatusAccepted {
		return errors.NewDomainError("estimate_not_payable",
			"estimate is "+string(e.Status)+", expected sent or accepted", errors.ErrEstimateNotPayable)
	}
	if e.ExpiresAt != nil && now.After(*e.ExpiresAt) {
		return errors.NewDomainError("estimate_expired", "estimate expired at "+e.ExpiresAt.Format(time.RFC3339), errors.ErrEstimateExpired)
	}
	return nil
}

// DepositAmount is total × deposit percentage, rounded to the nearest minor unit.
func (e *Estimate) DepositAmount() (int64, error) {
	if e.DepositPercentage <= 0 || e.DepositPercentage > 100 {
		return 0, errors.NewValidationError("deposit_percentage", "contractor has no deposit configured")
	}
	amount := int64(math.Round(float64(e.Total) * e.DepositPercentage / 100))
	if amount <= 0 {
		return 0, errors.NewDomainError("nothing_to_pay", "deposit rounds to zero", errors.ErrNothingToPay)
	}
	return amount, nil
}

// Remaining is what is still owed after the given completed payments.
func (e *Estimate) Remaining(paid int64) (int64, error) {
	rest := e.Total - paid
	if rest <= 0 {
		return 0, errors.NewDomainError("nothing_to_pay", "estimate is fully paid", errors.ErrNothingToPay)
	}
	return rest, nil
}

// Accept moves a sent estimate to accepted. It reports false when the estimate
// was not in sent; accepted estimates are never reverted.
func (e *Estimate) Accept(at time.Time) bool {
	if e.Status != StatusSent {
		return false
	}
	e.Status = StatusAccepted
	e.AcceptedAt = &at
	e.UpdatedAt = at
	return true
}
