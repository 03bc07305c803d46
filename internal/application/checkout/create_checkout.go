package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/lead"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateCheckoutRequest holds the input for starting a checkout.
type CreateCheckoutRequest struct {
	EstimateID     uuid.UUID
	PaymentType    payment.Type
	IdempotencyKey string
	// Amount is only read for milestone payments, in minor units.
	Amount int64
}

// CreateCheckoutResponse describes the hosted checkout the lead should be sent to.
type CreateCheckoutResponse struct {
	PaymentID  uuid.UUID
	SessionID  string
	SessionURL string
	Amount     int64
	Currency   string
	Status     payment.Status
	// Replayed is set when an earlier request with the same idempotency key produced this checkout.
	Replayed bool
}

// CreateCheckoutUseCase creates a pending payment and its processor checkout session.
type CreateCheckoutUseCase struct {
	estimates estimate.Repository
	leads     lead.Repository
	payments  payment.Repository
	processor processor.Processor
	txManager TransactionManager
	cfg       config.PaymentConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewCreateCheckoutUseCase creates a new CreateCheckoutUseCase.
func NewCreateCheckoutUseCase(
	estimates estimate.Repository,
	leads lead.Repository,
	payments payment.Repository,
	proc processor.Processor,
	txManager TransactionManager,
	cfg config.PaymentConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *CreateCheckoutUseCase {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &CreateCheckoutUseCase{
		estimates: estimates,
		leads:     leads,
		payments:  payments,
		processor: proc,
		txManager: txManager,
		cfg:       cfg,
		logger:    logger.With().Str("component", "checkout").Logger(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Execute starts a checkout for the estimate, or replays the one an earlier
// request with the same idempotency key created.
func (uc *CreateCheckoutUseCase) Execute(ctx context.Context, req CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	resp, err := uc.execute(ctx, req)
	switch {
	case err == nil && resp.Replayed:
		uc.metrics.ObserveCheckout(string(req.PaymentType), "replayed")
	case err == nil:
		uc.metrics.ObserveCheckout(string(req.PaymentType), "created")
	case domainErrors.KindOf(err) == domainErrors.KindValidation:
		uc.metrics.ObserveCheckout(string(req.PaymentType), "rejected")
	default:
		uc.metrics.ObserveCheckout(string(req.PaymentType), "failed")
	}
	return resp, err
}

func (uc *CreateCheckoutUseCase) execute(ctx context.Context, req CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	if req.EstimateID == uuid.Nil {
		return nil, domainErrors.NewValidationError("estimate_id", "is required")
	}
	if !req.PaymentType.Valid() {
		return nil, domainErrors.NewDomainError("invalid_payment_type", "unknown payment type "+string(req.PaymentType), domainErrors.ErrInvalidPaymentType)
	}

	// 1. Idempotency fast path.
	if req.IdempotencyKey != "" {
		existing, found, err := uc.payments.FindByIdempotencyKey(ctx, req.EstimateID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if found {
			return replay(existing)
		}
	}

	// 2. Load the estimate and check it can be paid.
	est, err := uc.estimates.GetByID(ctx, req.EstimateID)
	if err != nil {
		return nil, err
	}
	if err := est.CheckPayable(uc.now()); err != nil {
		return nil, err
	}

	// 3. Work out what is owed.
	amount, err := uc.amountFor(ctx, est, req)
	if err != nil {
		return nil, err
	}
	currency := strings.ToLower(est.Currency)
	if currency == "" {
		currency = uc.cfg.Currency
	}

	// The id is fixed up front so every coordinator attempt reuses the same
	// processor idempotency keys, and with them the same external objects.
	paymentID := uuid.New()
	var expiresAt time.Time
	if uc.cfg.SessionTTL > 0 {
		expiresAt = uc.now().Add(uc.cfg.SessionTTL)
	}
	var (
		p       *payment.Payment
		session *processor.Session
	)

	// 4. Customer, payment row, session and its URL commit together.
	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if req.IdempotencyKey != "" {
			existing, found, err := uc.payments.FindByIdempotencyKey(txCtx, req.EstimateID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				p = existing
				return nil
			}
		}

		customerID, err := uc.ensureCustomer(txCtx, est.LeadID)
		if err != nil {
			return err
		}

		p, err = payment.NewPayment(est.ID, req.PaymentType, payment.Amount{ValueCents: amount, Currency: currency}, req.IdempotencyKey)
		if err != nil {
			return err
		}
		p.ID = paymentID
		if err := uc.payments.Create(txCtx, p); err != nil {
			return err
		}

		session, err = uc.processor.CreateCheckoutSession(txCtx, uc.sessionParams(p, customerID, expiresAt))
		if err != nil {
			return err
		}

		p.AttachCheckout(session.ID, session.URL, uc.now().UTC())
		p.MergeMetadata(map[string]string{payment.MetaCustomerID: customerID})
		if err := uc.payments.Update(txCtx, p); err != nil {
			return err
		}

		return uc.payments.AddEvent(txCtx, payment.NewEvent(p, "checkout.created", map[string]any{
			"type":         string(p.Type),
			"amount_cents": p.Amount.ValueCents,
			"session_id":   session.ID,
		}))
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) {
			return uc.replayWinner(ctx, req)
		}
		if session != nil {
			uc.expireOrphan(ctx, session.ID, err)
		}
		return nil, err
	}

	if p.ID != paymentID {
		// A concurrent request with the same key committed first.
		return replay(p)
	}

	uc.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("estimate_id", est.ID.String()).
		Str("type", string(p.Type)).
		Int64("amount_cents", p.Amount.ValueCents).
		Msg("checkout created")

	return &CreateCheckoutResponse{
		PaymentID:  p.ID,
		SessionID:  session.ID,
		SessionURL: session.URL,
		Amount:     p.Amount.ValueCents,
		Currency:   p.Amount.Currency,
		Status:     p.Status,
	}, nil
}

func (uc *CreateCheckoutUseCase) amountFor(ctx context.Context, est *estimate.Estimate, req CreateCheckoutRequest) (int64, error) {
	if req.PaymentType == payment.TypeDeposit {
		return est.DepositAmount()
	}

	completed := payment.StatusCompleted
	paid, err := uc.payments.ListByEstimate(ctx, est.ID, &completed)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, p := range paid {
		sum += p.Amount.ValueCents
	}
	remaining, err := est.Remaining(sum)
	if err != nil {
		return 0, err
	}

	if req.PaymentType == payment.TypeFinal {
		return remaining, nil
	}
	if req.Amount <= 0 {
		return 0, domainErrors.NewValidationError("amount", "milestone amount must be greater than 0")
	}
	if req.Amount > remaining {
		return 0, domainErrors.NewValidationError("amount", fmt.Sprintf("milestone amount exceeds the %d still owed", remaining))
	}
	return req.Amount, nil
}

// ensureCustomer returns the lead's processor customer, creating and
// recording it on first checkout.
func (uc *CreateCheckoutUseCase) ensureCustomer(ctx context.Context, leadID uuid.UUID) (string, error) {
	l, err := uc.leads.GetByID(ctx, leadID)
	if err != nil {
		return "", err
	}
	if l.HasCustomer() {
		return *l.ExternalCustomerID, nil
	}

	customerID, err := uc.processor.CreateCustomer(ctx, processor.CustomerParams{
		Name:           l.Name,
		Email:          l.Email,
		IdempotencyKey: "customer-" + l.ID.String(),
		Metadata:       map[string]string{"lead_id": l.ID.String()},
	})
	if err != nil {
		return "", err
	}
	if err := uc.leads.SetExternalCustomerID(ctx, l.ID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

// sessionParams must be identical on every attempt: the processor rejects an
// idempotency key replayed with different parameters.
func (uc *CreateCheckoutUseCase) sessionParams(p *payment.Payment, customerID string, expiresAt time.Time) processor.SessionParams {
	return processor.SessionParams{
		CustomerID:      customerID,
		AmountCents:     p.Amount.ValueCents,
		Currency:        p.Amount.Currency,
		Description:     fmt.Sprintf("%s payment for estimate %s", p.Type, p.EstimateID),
		SuccessURL:      uc.cfg.SuccessURL,
		CancelURL:       uc.cfg.CancelURL,
		ClientReference: p.ID.String(),
		IdempotencyKey:  "checkout-" + p.ID.String(),
		Metadata: map[string]string{
			payment.MetaPaymentID: p.ID.String(),
			"estimate_id":         p.EstimateID.String(),
			"payment_type":        string(p.Type),
		},
		ExpiresAt: expiresAt,
	}
}

// replayWinner answers a request that lost the insert race on its idempotency key.
func (uc *CreateCheckoutUseCase) replayWinner(ctx context.Context, req CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	existing, found, err := uc.payments.FindByIdempotencyKey(ctx, req.EstimateID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainErrors.ErrDuplicateIdempotencyKey
	}
	return replay(existing)
}

// expireOrphan closes a session whose payment row was rolled back, so the lead
// cannot pay into a checkout nothing references.
func (uc *CreateCheckoutUseCase) expireOrphan(ctx context.Context, sessionID string, cause error) {
	log := uc.logger.With().Str("session_id", sessionID).Logger()
	if err := uc.processor.ExpireCheckoutSession(context.WithoutCancel(ctx), sessionID); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("failed to expire orphaned checkout session")
		return
	}
	log.Warn().Err(cause).Msg("expired checkout session after rollback")
}

func replay(p *payment.Payment) (*CreateCheckoutResponse, error) {
	url := p.CheckoutURL()
	if url == "" || p.ExternalCheckoutID == nil {
		return nil, domainErrors.ErrCheckoutInProgress
	}
	return &CreateCheckoutResponse{
		PaymentID:  p.ID,
		SessionID:  *p.ExternalCheckoutID,
		SessionURL: url,
		Amount:     p.Amount.ValueCents,
		Currency:   p.Amount.Currency,
		Status:     p.Status,
		Replayed:   true,
	}, nil
}
