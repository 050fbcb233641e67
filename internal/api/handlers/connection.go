package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/service"
	"github.com/mnemoslab/mnemos/internal/store"
)

type ConnectionHandler struct {
	manager *service.ConnectionManager
	queue   *service.DiscoveryQueue
	gateway domain.StorageGateway
}

func NewConnectionHandler(manager *service.ConnectionManager, queue *service.DiscoveryQueue, gateway domain.StorageGateway) *ConnectionHandler {
	return &ConnectionHandler{manager: manager, queue: queue, gateway: gateway}
}

type connectionsResponse struct {
	Connections []domain.MemoryConnection `json:"connections"`
	Count       int                       `json:"count"`
}

// List returns the edges touching one memory, in either direction.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id parameter is required")
		return
	}

	reader, ok := h.gateway.(domain.ConnectionReader)
	if !ok {
		writeJSON(w, http.StatusOK, connectionsResponse{Connections: []domain.MemoryConnection{}})
		return
	}

	edges, err := reader.GetConnectionsForMemories(r.Context(), userID, []string{chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get connections")
		return
	}
	if edges == nil {
		edges = []domain.MemoryConnection{}
	}

	writeJSON(w, http.StatusOK, connectionsResponse{Connections: edges, Count: len(edges)})
}

type discoverResponse struct {
	Connections []domain.MemoryConnection `json:"connections"`
	Count       int                       `json:"count"`
}

// Discover runs discovery for one memory synchronously and returns the
// edges it produced. The write path uses the background queue instead.
func (h *ConnectionHandler) Discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, agentID := q.Get("user_id"), q.Get("agent_id")
	if userID == "" || agentID == "" {
		writeError(w, http.StatusBadRequest, "user_id and agent_id parameters are required")
		return
	}

	memory, err := h.manager.GetMemoryByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		handleServiceError(w, err, "failed to get memory")
		return
	}

	edges, err := h.manager.DiscoverConnections(r.Context(), userID, agentID, memory)
	if err != nil {
		handleServiceError(w, err, "failed to discover connections")
		return
	}
	if len(edges) > 0 {
		if err := h.manager.CreateConnections(r.Context(), userID, edges); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist connections")
			return
		}
	}
	if edges == nil {
		edges = []domain.MemoryConnection{}
	}

	writeJSON(w, http.StatusOK, discoverResponse{Connections: edges, Count: len(edges)})
}
