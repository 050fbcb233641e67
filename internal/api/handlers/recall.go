package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/service"
)

type RecallHandler struct {
	svc *service.RecallService
}

func NewRecallHandler(svc *service.RecallService) *RecallHandler {
	return &RecallHandler{svc: svc}
}

// Recall runs the hybrid recall pipeline over all requested memory types.
func (h *RecallHandler) Recall(w http.ResponseWriter, r *http.Request) {
	var query domain.RecallQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Recall(r.Context(), query)
	if err != nil {
		handleServiceError(w, err, "failed to recall memories")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Metrics returns the rolling recall counters.
func (h *RecallHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics())
}
