package webhook

import (
	"context"

	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	"github.com/google/uuid"
)

// SyncPaymentUseCase reconciles a payment from the processor's view of its
// checkout session, for when webhooks were lost or are late.
type SyncPaymentUseCase struct {
	payments   payment.Repository
	processor  processor.Processor
	reconciler *ReconcileUseCase
}

func NewSyncPaymentUseCase(payments payment.Repository, proc processor.Processor, reconciler *ReconcileUseCase) *SyncPaymentUseCase {
	return &SyncPaymentUseCase{payments: payments, processor: proc, reconciler: reconciler}
}

// Execute queries the session and replays the events it implies, then
// returns the payment as stored afterwards.
func (uc *SyncPaymentUseCase) Execute(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error) {
	p, err := uc.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.ExternalCheckoutID == nil {
		return p, nil
	}

	s, err := uc.processor.GetCheckoutSession(ctx, *p.ExternalCheckoutID)
	if err != nil {
		return nil, err
	}

	for _, ev := range eventsForSession(p, s) {
		if _, err := uc.reconciler.Execute(ctx, ev); err != nil {
			return nil, err
		}
	}
	return uc.payments.GetByID(ctx, paymentID)
}

// eventsForSession derives the webhook events a session state implies. Their
// ids are stable so repeated syncs are deduplicated like redeliveries.
func eventsForSession(p *payment.Payment, s *processor.Session) []*processor.Event {
	metadata := map[string]string{payment.MetaPaymentID: p.ID.String()}
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	checkout := &processor.CheckoutData{
		SessionID:       s.ID,
		PaymentIntentID: s.PaymentIntentID,
		CustomerID:      s.CustomerID,
		PaymentStatus:   s.PaymentStatus,
		AmountTotal:     s.AmountTotal,
		Metadata:        metadata,
	}

	switch {
	case s.Status == processor.SessionComplete && s.PaymentStatus == processor.PaymentStatusPaid:
		return []*processor.Event{
			{ID: "sync_" + s.ID + "_completed", Kind: processor.EventCheckoutCompleted, Checkout: checkout},
			{ID: "sync_" + s.ID + "_succeeded", Kind: processor.EventPaymentIntentSucceeded, PaymentIntent: &processor.PaymentIntentData{
				ID:             s.PaymentIntentID,
				AmountReceived: s.AmountTotal,
				Metadata:       metadata,
			}},
		}
	case s.Status == processor.SessionComplete:
		return []*processor.Event{
			{ID: "sync_" + s.ID + "_completed", Kind: processor.EventCheckoutCompleted, Checkout: checkout},
		}
	case s.Status == processor.SessionExpired:
		return []*processor.Event{
			{ID: "sync_" + s.ID + "_expired", Kind: processor.EventCheckoutExpired, Checkout: checkout},
		}
	}
	return nil
}
