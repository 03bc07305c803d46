package checkout

import (
	"context"

	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/google/uuid"
)

// PaymentView is a payment together with its audit trail.
type PaymentView struct {
	Payment *payment.Payment
	Events  []*payment.PaymentEvent
}

type GetPaymentUseCase struct {
	payments payment.Repository
}

func NewGetPaymentUseCase(payments payment.Repository) *GetPaymentUseCase {
	return &GetPaymentUseCase{payments: payments}
}

func (uc *GetPaymentUseCase) Execute(ctx context.Context, id uuid.UUID) (*PaymentView, error) {
	p, err := uc.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := uc.payments.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentView{Payment: p, Events: events}, nil
}
