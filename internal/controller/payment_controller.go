package controller

import (
	"net/http"

	"github.com/cassiomorais/leadflow/internal/application/checkout"
	"github.com/cassiomorais/leadflow/internal/application/webhook"
)

// PaymentController serves the contractor dashboard's payment views.
type PaymentController struct {
	getPayment  *checkout.GetPaymentUseCase
	syncPayment *webhook.SyncPaymentUseCase
}

func NewPaymentController(getPayment *checkout.GetPaymentUseCase, syncPayment *webhook.SyncPaymentUseCase) *PaymentController {
	return &PaymentController{getPayment: getPayment, syncPayment: syncPayment}
}

// Get handles GET /api/v1/payments/{id}
func (h *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.getPayment.Execute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPaymentView(view))
}

// Sync handles POST /api/v1/payments/{id}/sync. It asks the processor for the
// session state and reconciles whatever webhooks were missed.
func (h *PaymentController) Sync(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.syncPayment.Execute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}
