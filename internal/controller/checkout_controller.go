package controller

import (
	"net/http"

	"github.com/cassiomorais/leadflow/internal/application/checkout"
	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// CheckoutController starts hosted checkouts for leads.
type CheckoutController struct {
	createCheckout *checkout.CreateCheckoutUseCase
}

func NewCheckoutController(createCheckout *checkout.CreateCheckoutUseCase) *CheckoutController {
	return &CheckoutController{createCheckout: createCheckout}
}

// Create handles POST /api/v1/estimates/{id}/checkout
func (h *CheckoutController) Create(w http.ResponseWriter, r *http.Request) {
	estimateID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, domainErrors.NewValidationError(IdempotencyKeyHeader, "must be at most 255 characters"))
		return
	}

	var amount int64
	if req.Amount != nil {
		if amount, err = floatToCents(*req.Amount); err != nil {
			writeError(w, r, err)
			return
		}
	}

	resp, err := h.createCheckout.Execute(r.Context(), checkout.CreateCheckoutRequest{
		EstimateID:     estimateID,
		PaymentType:    payment.Type(req.PaymentType),
		IdempotencyKey: key,
		Amount:         amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, FromCheckout(resp))
}
