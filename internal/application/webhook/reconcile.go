package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is what reconciling one event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
)

type Result struct {
	Outcome   Outcome
	PaymentID uuid.UUID
	// EstimateAccepted is set when this event moved the estimate from sent to accepted.
	EstimateAccepted bool
}

const defaultLockTTL = 30 * time.Second

type handlerFunc func(ctx context.Context, ev *processor.Event) (Result, error)

// ReconcileUseCase applies processor webhook events to payments and estimates.
// Every branch is safe under duplicate and out-of-order delivery.
type ReconcileUseCase struct {
	payments  payment.Repository
	estimates estimate.Repository
	outbox    OutboxWriter
	events    EventStore
	txManager TransactionManager
	locker    Locker
	lockTTL   time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	handlers map[processor.EventKind]handlerFunc
}

type Option func(*ReconcileUseCase)

// WithLocker serializes concurrent redeliveries of the same event.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(uc *ReconcileUseCase) {
		uc.locker = l
		if ttl > 0 {
			uc.lockTTL = ttl
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(uc *ReconcileUseCase) { uc.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(uc *ReconcileUseCase) { uc.metrics = m }
}

// NewReconcileUseCase creates a new ReconcileUseCase.
func NewReconcileUseCase(
	payments payment.Repository,
	estimates estimate.Repository,
	outboxWriter OutboxWriter,
	events EventStore,
	txManager TransactionManager,
	opts ...Option,
) *ReconcileUseCase {
	uc := &ReconcileUseCase{
		payments:  payments,
		estimates: estimates,
		outbox:    outboxWriter,
		events:    events,
		txManager: txManager,
		lockTTL:   defaultLockTTL,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(uc)
	}
	uc.logger = uc.logger.With().Str("component", "webhook").Logger()
	uc.handlers = map[processor.EventKind]handlerFunc{
		processor.EventCheckoutCompleted:      uc.checkoutCompleted,
		processor.EventCheckoutExpired:        uc.checkoutExpired,
		processor.EventPaymentIntentSucceeded: uc.intentSucceeded,
		processor.EventPaymentIntentFailed:    uc.intentFailed,
		processor.EventChargeRefunded:         uc.chargeRefunded,
	}
	return uc
}

// Execute reconciles one verified event. A payment that cannot be found is a
// normal outcome, reported with OutcomeNotFound and no error.
func (uc *ReconcileUseCase) Execute(ctx context.Context, ev *processor.Event) (Result, error) {
	start := uc.now()
	res, err := uc.execute(ctx, ev)

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	kind := "unknown"
	if ev != nil {
		kind = string(ev.Kind)
	}
	uc.metrics.ObserveWebhook(kind, outcome, uc.now().Sub(start))
	return res, err
}

func (uc *ReconcileUseCase) execute(ctx context.Context, ev *processor.Event) (Result, error) {
	if ev == nil || ev.ID == "" {
		return Result{}, domainErrors.Structural("webhook.reconcile", "event has no id", nil)
	}
	log := uc.logger.With().Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Logger()

	handle, ok := uc.handlers[ev.Kind]
	if !ok {
		log.Debug().Msg("ignoring unsupported event kind")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	seen, err := uc.events.Seen(ctx, ev.ID)
	if err != nil {
		return Result{}, err
	}
	if seen {
		log.Info().Msg("event already processed")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	if uc.locker != nil {
		release, err := uc.locker.Acquire(ctx, "webhook:"+ev.ID, uc.lockTTL)
		switch {
		case errors.Is(err, domainErrors.ErrLockAcquisitionFailed):
			return Result{}, fmt.Errorf("event %s is being processed elsewhere: %w", ev.ID, err)
		case err != nil:
			// The lock only narrows a race the database already resolves.
			log.Warn().Err(err).Msg("webhook lock unavailable, continuing without it")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("failed to release webhook lock")
				}
			}()
		}
	}

	run := uc.txManager.WithTransaction
	if ev.Kind == processor.EventCheckoutCompleted {
		run = uc.txManager.WithOptimisticLock
	}

	var res Result
	err = run(ctx, func(txCtx context.Context) error {
		var err error
		res, err = handle(txCtx, ev)
		if err != nil {
			return err
		}
		// Left unrecorded so a redelivery after the payment row exists can still apply.
		if res.Outcome == OutcomeNotFound {
			return nil
		}
		return uc.events.MarkProcessed(txCtx, ev.ID, string(ev.Kind), string(res.Outcome))
	})
	if err != nil {
		log.Error().Err(err).Msg("webhook reconciliation failed")
		return Result{}, err
	}

	evt := log.Info()
	if res.Outcome == OutcomeNotFound {
		evt = log.Warn()
	}
	evt.Str("outcome", string(res.Outcome)).
		Str("payment_id", res.PaymentID.String()).
		Bool("estimate_accepted", res.EstimateAccepted).
		Msg("webhook reconciled")
	return res, nil
}

func (uc *ReconcileUseCase) checkoutCompleted(ctx context.Context, ev *processor.Event) (Result, error) {
	d := ev.Checkout
	if d == nil {
		return Result{}, missingData(ev)
	}
	p, found, err := uc.payments.FindByCheckoutID(ctx, d.SessionID)
	if err == nil && !found {
		p, found, err = uc.findByMetadata(ctx, d.Metadata)
	}
	if err != nil || !found {
		return Result{Outcome: OutcomeNotFound}, err
	}

	at := uc.eventTime(ev)
	moved, err := p.MarkProcessing(at)
	if err != nil {
		return Result{}, err
	}
	touched := p.SetPaymentIntentID(d.PaymentIntentID)
	touched = p.MergeMetadata(map[string]string{payment.MetaCustomerID: d.CustomerID}) || touched

	res := Result{Outcome: OutcomeUnchanged, PaymentID: p.ID}
	if moved || touched {
		if err := uc.save(ctx, p, ev, outbox.EventPaymentProcessing, moved); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeApplied
	}

	accepted, err := uc.acceptEstimate(ctx, p, at)
	if err != nil {
		return Result{}, err
	}
	if accepted {
		res.Outcome = OutcomeApplied
		res.EstimateAccepted = true
	}
	return res, nil
}

// acceptEstimate advances a sent estimate to accepted on its first completed
// checkout. The estimate write is version-checked, so two concurrent first
// checkouts cannot both accept it.
func (uc *ReconcileUseCase) acceptEstimate(ctx context.Context, p *payment.Payment, at time.Time) (bool, error) {
	est, err := uc.estimates.GetByID(ctx, p.EstimateID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrEstimateNotFound) {
			uc.logger.Warn().Str("estimate_id", p.EstimateID.String()).Msg("estimate for paid checkout not found")
			return false, nil
		}
		return false, err
	}
	if est.Status != estimate.StatusSent {
		return false, nil
	}

	completed := payment.StatusCompleted
	paid, err := uc.payments.ListByEstimate(ctx, est.ID, &completed)
	if err != nil {
		return false, err
	}
	for _, other := range paid {
		if other.ID != p.ID {
			return false, nil
		}
	}

	if !est.Accept(at) {
		return false, nil
	}
	if err := uc.estimates.Update(ctx, est); err != nil {
		return false, err
	}
	return true, uc.outbox.Insert(ctx, outbox.NewEntry(outbox.AggregateEstimate, est.ID, outbox.EventEstimateAccepted, map[string]any{
		"estimate_id": est.ID.String(),
		"payment_id":  p.ID.String(),
		"accepted_at": at.UTC().Format(time.RFC3339),
	}))
}

func (uc *ReconcileUseCase) checkoutExpired(ctx context.Context, ev *processor.Event) (Result, error) {
	d := ev.Checkout
	if d == nil {
		return Result{}, missingData(ev)
	}
	p, found, err := uc.payments.FindByCheckoutID(ctx, d.SessionID)
	if err == nil && !found {
		p, found, err = uc.findByMetadata(ctx, d.Metadata)
	}
	if err != nil || !found {
		return Result{Outcome: OutcomeNotFound}, err
	}

	moved, err := p.MarkFailed("checkout session expired", uc.eventTime(ev))
	if err != nil {
		return Result{}, err
	}
	return uc.finish(ctx, p, ev, outbox.EventPaymentFailed, moved)
}

func (uc *ReconcileUseCase) intentSucceeded(ctx context.Context, ev *processor.Event) (Result, error) {
	d := ev.PaymentIntent
	if d == nil {
		return Result{}, missingData(ev)
	}
	p, found, err := uc.findByIntent(ctx, d)
	if err != nil || !found {
		return Result{Outcome: OutcomeNotFound}, err
	}

	moved, err := p.MarkCompleted(uc.eventTime(ev))
	if err != nil {
		return Result{}, err
	}
	touched := p.SetPaymentIntentID(d.ID)
	touched = p.SetChargeID(d.ChargeID) || touched
	meta := map[string]string{payment.MetaReceiptURL: d.ReceiptURL}
	if d.AmountReceived > 0 {
		meta[payment.MetaAmountReceived] = strconv.FormatInt(d.AmountReceived, 10)
	}
	touched = p.MergeMetadata(meta) || touched

	return uc.finish(ctx, p, ev, outbox.EventPaymentCompleted, moved || touched)
}

func (uc *ReconcileUseCase) intentFailed(ctx context.Context, ev *processor.Event) (Result, error) {
	d := ev.PaymentIntent
	if d == nil {
		return Result{}, missingData(ev)
	}
	p, found, err := uc.findByIntent(ctx, d)
	if err != nil || !found {
		return Result{Outcome: OutcomeNotFound}, err
	}

	reason := d.FailureMessage
	if reason == "" {
		reason = d.FailureCode
	}
	if reason == "" {
		reason = "payment failed"
	}
	moved, err := p.MarkFailed(reason, uc.eventTime(ev))
	if err != nil {
		return Result{}, err
	}
	touched := p.SetPaymentIntentID(d.ID)
	return uc.finish(ctx, p, ev, outbox.EventPaymentFailed, moved || touched)
}

func (uc *ReconcileUseCase) chargeRefunded(ctx context.Context, ev *processor.Event) (Result, error) {
	d := ev.Charge
	if d == nil {
		return Result{}, missingData(ev)
	}
	p, found, err := uc.payments.FindByChargeID(ctx, d.ID)
	if err == nil && !found && d.PaymentIntentID != "" {
		p, found, err = uc.payments.FindByPaymentIntentID(ctx, d.PaymentIntentID)
	}
	if err == nil && !found {
		p, found, err = uc.findByMetadata(ctx, d.Metadata)
	}
	if err != nil || !found {
		return Result{Outcome: OutcomeNotFound}, err
	}

	at := uc.eventTime(ev)
	touched := p.SetChargeID(d.ID)
	if !d.Refunded {
		// Partial refund: the charge stays settled.
		touched = p.MergeMetadata(map[string]string{
			payment.MetaRefundAmount: strconv.FormatInt(d.AmountRefunded, 10),
		}) || touched
		return uc.finish(ctx, p, ev, outbox.EventPaymentRefunded, touched)
	}

	moved, err := p.MarkRefunded(d.AmountRefunded, at)
	if err != nil {
		return Result{}, err
	}
	return uc.finish(ctx, p, ev, outbox.EventPaymentRefunded, moved || touched)
}

// finish persists p when changed and reports the outcome.
func (uc *ReconcileUseCase) finish(ctx context.Context, p *payment.Payment, ev *processor.Event, eventType string, changed bool) (Result, error) {
	if !changed {
		return Result{Outcome: OutcomeUnchanged, PaymentID: p.ID}, nil
	}
	if err := uc.save(ctx, p, ev, eventType, true); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, PaymentID: p.ID}, nil
}

// save writes p and its audit event. publish adds the integration event to the outbox.
func (uc *ReconcileUseCase) save(ctx context.Context, p *payment.Payment, ev *processor.Event, eventType string, publish bool) error {
	if err := uc.payments.Update(ctx, p); err != nil {
		return err
	}
	if err := uc.payments.AddEvent(ctx, payment.NewEvent(p, "webhook."+string(ev.Kind), map[string]any{
		"processor_event_id": ev.ID,
	})); err != nil {
		return err
	}
	if !publish {
		return nil
	}
	payload := map[string]any{
		"payment_id":   p.ID.String(),
		"estimate_id":  p.EstimateID.String(),
		"type":         string(p.Type),
		"status":       string(p.Status),
		"amount_cents": p.Amount.ValueCents,
		"currency":     p.Amount.Currency,
	}
	if p.PaidAt != nil {
		payload["paid_at"] = p.PaidAt.UTC().Format(time.RFC3339)
	}
	return uc.outbox.Insert(ctx, outbox.NewEntry(outbox.AggregatePayment, p.ID, eventType, payload))
}

func (uc *ReconcileUseCase) findByIntent(ctx context.Context, d *processor.PaymentIntentData) (*payment.Payment, bool, error) {
	if d.ID != "" {
		p, found, err := uc.payments.FindByPaymentIntentID(ctx, d.ID)
		if err != nil || found {
			return p, found, err
		}
	}
	// The intent id is unknown until checkout completion is recorded.
	return uc.findByMetadata(ctx, d.Metadata)
}

// findByMetadata resolves the payment id we put into processor-side metadata.
func (uc *ReconcileUseCase) findByMetadata(ctx context.Context, metadata map[string]string) (*payment.Payment, bool, error) {
	raw := metadata[payment.MetaPaymentID]
	if raw == "" {
		return nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		uc.logger.Warn().Str("payment_id", raw).Msg("unparseable payment id in processor metadata")
		return nil, false, nil
	}
	p, err := uc.payments.GetByID(ctx, id)
	if errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (uc *ReconcileUseCase) eventTime(ev *processor.Event) time.Time {
	if !ev.CreatedAt.IsZero() {
		return ev.CreatedAt.UTC()
	}
	return uc.now().UTC()
}

func missingData(ev *processor.Event) error {
	return domainErrors.Structural("webhook.reconcile", "event "+ev.ID+" of kind "+string(ev.Kind)+" carries no object", nil)
}
