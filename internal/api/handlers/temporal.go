package handlers

import (
	"net/http"
	"strconv"

	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/service"
)

type TemporalHandler struct {
	analyzer *service.TemporalAnalyzer
}

func NewTemporalHandler(analyzer *service.TemporalAnalyzer) *TemporalHandler {
	return &TemporalHandler{analyzer: analyzer}
}

type patternsResponse struct {
	Patterns []domain.TemporalPattern `json:"patterns"`
	Count    int                      `json:"count"`
}

func (h *TemporalHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patterns, err := h.analyzer.AnalyzePatterns(r.Context(), q.Get("user_id"), q.Get("agent_id"), parseTimeRange(q.Get("start"), q.Get("end")))
	if err != nil {
		handleServiceError(w, err, "failed to analyze patterns")
		return
	}

	writeJSON(w, http.StatusOK, patternsResponse{Patterns: patterns, Count: len(patterns)})
}

type clustersResponse struct {
	Clusters []domain.ActivityCluster `json:"clusters"`
	Count    int                      `json:"count"`
}

func (h *TemporalHandler) Clusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clusters, err := h.analyzer.DetectActivityClusters(r.Context(), q.Get("user_id"), q.Get("agent_id"), parseTimeRange(q.Get("start"), q.Get("end")))
	if err != nil {
		handleServiceError(w, err, "failed to detect clusters")
		return
	}
	if clusters == nil {
		clusters = []domain.ActivityCluster{}
	}

	writeJSON(w, http.StatusOK, clustersResponse{Clusters: clusters, Count: len(clusters)})
}

// parseTimeRange builds a window from millisecond epoch query parameters;
// both must be present and valid, else no window applies.
func parseTimeRange(start, end string) *domain.TimeRange {
	if start == "" || end == "" {
		return nil
	}
	s, err1 := strconv.ParseInt(start, 10, 64)
	e, err2 := strconv.ParseInt(end, 10, 64)
	if err1 != nil || err2 != nil || e < s {
		return nil
	}
	return &domain.TimeRange{Start: s, End: e}
}
