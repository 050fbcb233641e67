package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/service"
	"github.com/mnemoslab/mnemos/internal/store"
)

type MemoryHandler struct {
	types   *service.MemoryTypes
	gateway domain.StorageGateway
}

func NewMemoryHandler(types *service.MemoryTypes, gateway domain.StorageGateway) *MemoryHandler {
	return &MemoryHandler{types: types, gateway: gateway}
}

type storeMemoryRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Content string `json:"content"`

	// Shared options.
	SessionID  string         `json:"session_id,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Working.
	ContextWindow int `json:"context_window,omitempty"`
	TTLSeconds    int `json:"ttl_seconds,omitempty"`

	// Episodic.
	Tags []string `json:"tags,omitempty"`

	// Semantic.
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`

	// Procedural.
	Trigger string `json:"trigger,omitempty"`
	Action  string `json:"action,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Success bool   `json:"success,omitempty"`
}

type storeMemoryResponse struct {
	ID   string            `json:"id"`
	Type domain.MemoryType `json:"type"`
}

// Store persists one memory of the type named in the URL and returns its
// id. Connection discovery runs in the background after the response.
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	memType := domain.MemoryType(chi.URLParam(r, "type"))
	if !domain.ValidMemoryType(string(memType)) {
		writeError(w, http.StatusBadRequest, "invalid memory type")
		return
	}

	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var id string
	var err error
	switch memType {
	case domain.MemoryTypeWorking:
		id, err = h.types.Working.Store(r.Context(), req.UserID, req.AgentID, req.Content, service.WorkingOptions{
			SessionID:     req.SessionID,
			ContextWindow: req.ContextWindow,
			TTLSeconds:    req.TTLSeconds,
			Importance:    req.Importance,
			Keywords:      req.Keywords,
			Metadata:      req.Metadata,
		})
	case domain.MemoryTypeEpisodic:
		id, err = h.types.Episodic.Store(r.Context(), req.UserID, req.AgentID, req.Content, service.EpisodicOptions{
			SessionID:  req.SessionID,
			Tags:       req.Tags,
			Importance: req.Importance,
			Keywords:   req.Keywords,
			Metadata:   req.Metadata,
		})
	case domain.MemoryTypeSemantic:
		id, err = h.types.Semantic.Store(r.Context(), req.UserID, req.AgentID, req.Content, service.SemanticOptions{
			Confidence: req.Confidence,
			Source:     req.Source,
			SessionID:  req.SessionID,
			Importance: req.Importance,
			Keywords:   req.Keywords,
			Metadata:   req.Metadata,
		})
	case domain.MemoryTypeProcedural:
		id, err = h.types.Procedural.Store(r.Context(), req.UserID, req.AgentID, req.Content, service.ProceduralOptions{
			Trigger:    req.Trigger,
			Action:     req.Action,
			Outcome:    req.Outcome,
			Success:    req.Success,
			SessionID:  req.SessionID,
			Importance: req.Importance,
			Keywords:   req.Keywords,
			Metadata:   req.Metadata,
		})
	}
	if err != nil {
		handleServiceError(w, err, "failed to store memory")
		return
	}

	writeJSON(w, http.StatusCreated, storeMemoryResponse{ID: id, Type: memType})
}

type searchResponse struct {
	Memories []domain.MemoryWithScore `json:"memories"`
	Query    string                   `json:"query"`
	Count    int                      `json:"count"`
}

// Search runs the per-type text search named in the URL.
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	memType := domain.MemoryType(chi.URLParam(r, "type"))
	if !domain.ValidMemoryType(string(memType)) {
		writeError(w, http.StatusBadRequest, "invalid memory type")
		return
	}

	q := r.URL.Query()
	query := q.Get("query")
	limit := 0
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := h.types.Search(r.Context(), q.Get("user_id"), q.Get("agent_id"), query, memType, limit)
	if err != nil {
		handleServiceError(w, err, "failed to search memories")
		return
	}
	if results == nil {
		results = []domain.MemoryWithScore{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Memories: results, Query: query, Count: len(results)})
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required")
		return
	}

	m, err := h.gateway.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get memory")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, agentID := q.Get("user_id"), q.Get("agent_id")
	if userID == "" || agentID == "" {
		writeError(w, http.StatusBadRequest, "user_id and agent_id parameters are required")
		return
	}

	if err := h.gateway.Delete(r.Context(), userID, agentID, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required")
		return
	}

	stats, err := h.gateway.GetStats(r.Context(), userID, q.Get("agent_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func handleServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrInvalidAgent),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, service.ErrInvalidType),
		errors.Is(err, service.ErrSessionRequired),
		errors.Is(err, service.ErrRuleMisconfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
