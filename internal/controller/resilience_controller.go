package controller

import (
	"net/http"

	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
)

type breakerLister interface {
	Snapshots() []resilience.BreakerSnapshot
}

// ResilienceController exposes breaker state to operators.
type ResilienceController struct {
	breakers breakerLister
}

func NewResilienceController(breakers breakerLister) *ResilienceController {
	return &ResilienceController{breakers: breakers}
}

// Breakers handles GET /api/v1/resilience/breakers
func (h *ResilienceController) Breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": h.breakers.Snapshots()})
}
