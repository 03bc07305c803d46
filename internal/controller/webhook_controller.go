package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/cassiomorais/leadflow/internal/application/webhook"
	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the processor's "t=<unix>,v1=<hex>" signature.
const SignatureHeader = "Stripe-Signature"

// WebhookController receives processor webhooks.
//
// Any non-2xx answer makes the processor redeliver. Failures that a
// redelivery cannot fix (malformed data, impossible transitions) are
// acknowledged with 200 so the processor stops retrying; everything else
// is left to redelivery.
type WebhookController struct {
	parser    processor.EventParser
	reconcile *webhook.ReconcileUseCase
}

func NewWebhookController(parser processor.EventParser, reconcile *webhook.ReconcileUseCase) *WebhookController {
	return &WebhookController{parser: parser, reconcile: reconcile}
}

// Receive handles POST /webhooks/payments
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: "invalid_body"})
		return
	}

	ev, err := h.parser.ParseEvent(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidSignature) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "malformed_event"})
		return
	}

	logger := zerolog.Ctx(r.Context()).With().
		Str("event_id", ev.ID).
		Str("event_kind", string(ev.Kind)).
		Logger()

	res, err := h.reconcile.Execute(r.Context(), ev)
	if err != nil {
		if permanent(err) {
			logger.Warn().Err(err).Msg("Webhook rejected permanently, acknowledging")
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Outcome: "rejected"})
			return
		}
		logger.Error().Err(err).Msg("Webhook processing failed, awaiting redelivery")
		writeError(w, r, err)
		return
	}

	logger.Debug().Str("outcome", string(res.Outcome)).Msg("Webhook reconciled")
	writeJSON(w, http.StatusOK, FromResult(res))
}

func permanent(err error) bool {
	switch domainErrors.KindOf(err) {
	case domainErrors.KindValidation, domainErrors.KindStructural:
		return true
	}
	return false
}
