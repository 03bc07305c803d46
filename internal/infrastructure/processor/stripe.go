package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe refuses session expiry closer than this.
const minSessionTTL = 30 * time.Minute

// StripeProcessor talks to Stripe Checkout.
type StripeProcessor struct {
	customers     *customer.Client
	sessions      *session.Client
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeProcessor(secretKey, webhookSecret string, tolerance time.Duration) *StripeProcessor {
	backend := stripe.GetBackend(stripe.APIBackend)
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeProcessor{
		customers:     &customer.Client{B: backend, Key: secretKey},
		sessions:      &session.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) CreateCustomer(ctx context.Context, in CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(in.Name),
		Email: stripe.String(in.Email),
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	c, err := p.customers.New(params)
	if err != nil {
		return "", classifyStripe(ctx, "stripe.create_customer", err)
	}
	return c.ID, nil
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, in SessionParams) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.ClientReference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(in.Currency),
				UnitAmount: stripe.Int64(in.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(in.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		// intent and charge events carry the same metadata as the session
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: in.Metadata,
		},
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if !in.ExpiresAt.IsZero() && time.Until(in.ExpiresAt) >= minSessionTTL {
		params.ExpiresAt = stripe.Int64(in.ExpiresAt.Unix())
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, classifyStripe(ctx, "stripe.create_checkout_session", err)
	}
	return fromStripeSession(s), nil
}

func (p *StripeProcessor) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := p.sessions.Expire(sessionID, params); err != nil {
		return classifyStripe(ctx, "stripe.expire_checkout_session", err)
	}
	return nil
}

func (p *StripeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripe(ctx, "stripe.get_checkout_session", err)
	}
	return fromStripeSession(s), nil
}

// ParseEvent verifies the Stripe-Signature header and reduces the event to
// the fields reconciliation reads. Unknown kinds come back with no payload.
func (p *StripeProcessor) ParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(domainErrors.ErrInvalidSignature, err)
	}

	out := &Event{
		ID:        ev.ID,
		Kind:      EventKind(ev.Type),
		CreatedAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Kind {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, domainErrors.Structural("stripe.parse_event", "malformed checkout session", err)
		}
		out.Checkout = &CheckoutData{
			SessionID:     s.ID,
			PaymentStatus: string(s.PaymentStatus),
			AmountTotal:   s.AmountTotal,
			Metadata:      s.Metadata,
		}
		if s.PaymentIntent != nil {
			out.Checkout.PaymentIntentID = s.PaymentIntent.ID
		}
		if s.Customer != nil {
			out.Checkout.CustomerID = s.Customer.ID
		}
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, domainErrors.Structural("stripe.parse_event", "malformed payment intent", err)
		}
		out.PaymentIntent = &PaymentIntentData{
			ID:             pi.ID,
			AmountReceived: pi.AmountReceived,
			Metadata:       pi.Metadata,
		}
		if pi.LatestCharge != nil {
			out.PaymentIntent.ChargeID = pi.LatestCharge.ID
			out.PaymentIntent.ReceiptURL = pi.LatestCharge.ReceiptURL
		}
		if pi.LastPaymentError != nil {
			out.PaymentIntent.FailureCode = string(pi.LastPaymentError.Code)
			out.PaymentIntent.FailureMessage = pi.LastPaymentError.Msg
		}
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, domainErrors.Structural("stripe.parse_event", "malformed charge", err)
		}
		out.Charge = &ChargeData{
			ID:             ch.ID,
			AmountRefunded: ch.AmountRefunded,
			Refunded:       ch.Refunded,
			Metadata:       ch.Metadata,
		}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}

func fromStripeSession(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        SessionStatus(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out
}

// classifyStripe maps a stripe-go error onto the error taxonomy. Card and
// request errors are permanent and keep Stripe's message.
func classifyStripe(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domainErrors.Timeout(op, err)
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusTooManyRequests:
			return domainErrors.RateLimited(op, 0, err)
		case se.HTTPStatusCode == http.StatusConflict,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return domainErrors.Transient(op, err)
		default:
			return domainErrors.ExternalService(op, se.Msg, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domainErrors.Timeout(op, err)
		}
		return domainErrors.Transient(op, err)
	}
	return domainErrors.Transient(op, errors.Join(domainErrors.ErrProcessorUnavailable, err))
}
