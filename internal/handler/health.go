package handler

import (
	"net/http"

	"github.com/capitalize-ai/assistant-client/internal/model"
)

// HealthHandler serves the availability probe endpoint.
type HealthHandler struct {
	modelName string
}

// NewHealthHandler creates a new health handler reporting the given model.
func NewHealthHandler(modelName string) *HealthHandler {
	return &HealthHandler{modelName: modelName}
}

// Health handles GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Availability{
		Status: model.StatusOnline,
		Model:  h.modelName,
	})
}
