package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/leadflow/internal/application/checkout"
	"github.com/cassiomorais/leadflow/internal/application/webhook"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	"github.com/cassiomorais/leadflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flow struct {
	*fixture
	proc     *processor.MockProcessor
	checkout *checkout.CreateCheckoutUseCase
	sync     *webhook.SyncPaymentUseCase
}

func newFlow(t *testing.T) *flow {
	t.Helper()
	f := newFixture(t)
	proc := processor.NewMockProcessor("whsec_test", 5*time.Minute)
	return &flow{
		fixture: f,
		proc:    proc,
		checkout: checkout.NewCreateCheckoutUseCase(
			f.estimates,
			testutil.NewMockLeadRepository(f.store),
			f.payments,
			proc,
			f.tx,
			config.PaymentConfig{Currency: "usd"},
			zerolog.Nop(),
			nil,
		),
		sync: webhook.NewSyncPaymentUseCase(f.payments, proc, f.uc),
	}
}

func (fl *flow) startDeposit(t *testing.T) *checkout.CreateCheckoutResponse {
	t.Helper()
	resp, err := fl.checkout.Execute(context.Background(), checkout.CreateCheckoutRequest{
		EstimateID:     fl.estimate.ID,
		PaymentType:    payment.TypeDeposit,
		IdempotencyKey: "deposit-1",
	})
	require.NoError(t, err)
	return resp
}

func TestEndToEnd_DepositCheckoutToCompletion(t *testing.T) {
	fl := newFlow(t)
	ctx := context.Background()

	resp := fl.startDeposit(t)
	assert.Equal(t, int64(2500), resp.Amount)
	assert.Equal(t, payment.StatusPending, fl.store.Payment(resp.PaymentID).Status)

	// The lead pays; the processor reports the finished session.
	session, err := fl.proc.CompleteSession(resp.SessionID)
	require.NoError(t, err)

	res, err := fl.uc.Execute(ctx, &processor.Event{
		ID:   "evt_checkout",
		Kind: processor.EventCheckoutCompleted,
		Checkout: &processor.CheckoutData{
			SessionID:       session.ID,
			PaymentIntentID: session.PaymentIntentID,
			CustomerID:      session.CustomerID,
			PaymentStatus:   session.PaymentStatus,
			Metadata:        session.Metadata,
		},
	})
	require.NoError(t, err)
	assert.True(t, res.EstimateAccepted)
	assert.Equal(t, payment.StatusProcessing, fl.store.Payment(resp.PaymentID).Status)
	assert.Equal(t, estimate.StatusAccepted, fl.store.Estimate(fl.estimate.ID).Status)

	_, err = fl.uc.Execute(ctx, &processor.Event{
		ID:   "evt_intent",
		Kind: processor.EventPaymentIntentSucceeded,
		PaymentIntent: &processor.PaymentIntentData{
			ID:             session.PaymentIntentID,
			AmountReceived: session.AmountTotal,
			ChargeID:       "ch_e2e",
		},
	})
	require.NoError(t, err)

	p := fl.store.Payment(resp.PaymentID)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.NotNil(t, p.PaidAt)
}

func TestSyncPayment_CompletedSession(t *testing.T) {
	fl := newFlow(t)
	resp := fl.startDeposit(t)
	_, err := fl.proc.CompleteSession(resp.SessionID)
	require.NoError(t, err)

	p, err := fl.sync.Execute(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.NotNil(t, p.PaidAt)
	assert.Equal(t, estimate.StatusAccepted, fl.store.Estimate(fl.estimate.ID).Status)

	// a second sync replays nothing
	version := p.Version
	p, err = fl.sync.Execute(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, version, p.Version)
}

func TestSyncPayment_ExpiredSession(t *testing.T) {
	fl := newFlow(t)
	resp := fl.startDeposit(t)
	require.NoError(t, fl.proc.ExpireCheckoutSession(context.Background(), resp.SessionID))

	p, err := fl.sync.Execute(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, estimate.StatusSent, fl.store.Estimate(fl.estimate.ID).Status)
}

func TestSyncPayment_OpenSessionIsUntouched(t *testing.T) {
	fl := newFlow(t)
	resp := fl.startDeposit(t)

	p, err := fl.sync.Execute(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Empty(t, fl.store.OutboxEvents())
}

func TestSyncPayment_WithoutSession(t *testing.T) {
	fl := newFlow(t)
	p := testutil.NewTestPayment(fl.estimate.ID, payment.TypeDeposit, 2500)
	fl.store.AddPayment(p)

	got, err := fl.sync.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
	assert.Zero(t, fl.proc.Calls("get_checkout_session"))
}
