package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/service"
)

// LifecycleHandler exposes the on-demand consolidation and decay passes.
type LifecycleHandler struct {
	consolidator *service.Consolidator
	decay        *service.DecayService
}

func NewLifecycleHandler(consolidator *service.Consolidator, decay *service.DecayService) *LifecycleHandler {
	return &LifecycleHandler{consolidator: consolidator, decay: decay}
}

type consolidateRequest struct {
	UserID    string                      `json:"user_id"`
	AgentID   string                      `json:"agent_id"`
	Overrides *config.ConsolidationConfig `json:"overrides,omitempty"`
}

type consolidateResponse struct {
	Results []domain.ConsolidationResult `json:"results"`
}

func (h *LifecycleHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.consolidator.ConsolidateMemories(r.Context(), req.UserID, req.AgentID, req.Overrides)
	if err != nil {
		handleServiceError(w, err, "failed to consolidate memories")
		return
	}

	writeJSON(w, http.StatusOK, consolidateResponse{Results: results})
}

type decayRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

func (h *LifecycleHandler) Decay(w http.ResponseWriter, r *http.Request) {
	var req decayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.decay.Apply(r.Context(), req.UserID, req.AgentID)
	if err != nil {
		handleServiceError(w, err, "failed to apply decay")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
