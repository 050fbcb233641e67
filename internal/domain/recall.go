package domain

// RecallQuery is the hybrid-recall input.
type RecallQuery struct {
	UserID         string       `json:"user_id"`
	AgentID        string       `json:"agent_id"`
	Query          string       `json:"query"`
	MemoryTypes    []MemoryType `json:"memory_types,omitempty"`
	TimeRange      *TimeRange   `json:"time_range,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	MinRelevance   float64      `json:"min_relevance,omitempty"`
	IncludeRelated bool         `json:"include_related,omitempty"`
	ConnectionHops int          `json:"connection_hops,omitempty"`
	Context        string       `json:"context,omitempty"`
}

// RecalledMemory is a memory with its final relevance and any attached
// connection context.
type RecalledMemory struct {
	Memory
	Relevance     float64              `json:"relevance"`
	VectorScore   float64              `json:"vector_score,omitempty"`
	TextScore     float64              `json:"text_score,omitempty"`
	TemporalScore float64              `json:"temporal_score,omitempty"`
	Connections   []AttachedConnection `json:"connections,omitempty"`
	Related       []string             `json:"related,omitempty"` // memory ids reachable via BFS
}

// RecallResult is the assembled response of a hybrid recall.
type RecallResult struct {
	Memories            []RecalledMemory   `json:"memories"`
	TotalRelevance      float64            `json:"total_relevance"`
	SearchStrategy      string             `json:"search_strategy"`
	ExecutionTimeMs     int64              `json:"execution_time_ms"`
	Sources             map[MemoryType]int `json:"sources"`
	ConversationContext string             `json:"conversation_context,omitempty"`
	CacheHit            bool               `json:"cache_hit"`
}

// RecallMetrics is the rolling counter set the recall service maintains.
type RecallMetrics struct {
	TotalQueries      int64              `json:"total_queries"`
	CacheHits         int64              `json:"cache_hits"`
	CacheHitRate      float64            `json:"cache_hit_rate"`
	AvgResponseTimeMs float64            `json:"avg_response_time_ms"`
	TypeDistribution  map[MemoryType]int `json:"type_distribution"`
	PopularQueries    []QueryCount       `json:"popular_queries"`
	DroppedDiscovery  int64              `json:"dropped_discovery"`
}

// QueryCount is one entry of the popular-query leaderboard.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}
