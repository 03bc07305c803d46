package controller

import (
	"net/http"

	"github.com/cassiomorais/leadflow/internal/infrastructure/ai"
)

type AIController struct {
	service *ai.Service
}

func NewAIController(service *ai.Service) *AIController {
	return &AIController{service: service}
}

// Generate handles POST /api/v1/ai/generate. Requests with image URLs go to
// the vision model.
func (h *AIController) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		text string
		err  error
	)
	if len(req.ImageURLs) > 0 {
		text, err = h.service.GenerateVision(r.Context(), req.Prompt, req.ImageURLs)
	} else {
		text, err = h.service.Generate(r.Context(), req.System, req.Prompt)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Text: text})
}
