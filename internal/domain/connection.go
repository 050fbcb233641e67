package domain

type ConnectionType string

const (
	ConnectionSimilar  ConnectionType = "similar"
	ConnectionRelated  ConnectionType = "related"
	ConnectionCauses   ConnectionType = "causes"
	ConnectionPartOf   ConnectionType = "part_of"
	ConnectionOpposite ConnectionType = "opposite"
)

func ValidConnectionType(t string) bool {
	switch ConnectionType(t) {
	case ConnectionSimilar, ConnectionRelated, ConnectionCauses, ConnectionPartOf, ConnectionOpposite:
		return true
	}
	return false
}

// DiscoveryMethod records which ladder level classified a connection.
type DiscoveryMethod string

const (
	MethodEmbedding DiscoveryMethod = "embedding"
	MethodUserRule  DiscoveryMethod = "user-rule"
	MethodLLM       DiscoveryMethod = "llm"
	MethodHeuristic DiscoveryMethod = "heuristic"
)

// ConnectionMetadata carries provenance for a discovered edge.
type ConnectionMetadata struct {
	Method              DiscoveryMethod `json:"method"`
	Confidence          float64         `json:"confidence"`
	EmbeddingSimilarity float64         `json:"embedding_similarity"`
	LLMUsed             bool            `json:"llm_used"`
	Algorithm           string          `json:"algorithm,omitempty"`
}

// MemoryConnection is a directed, typed edge between two memories of the
// same user. Strength is in [0,1] and never below the embedding similarity
// the edge was derived from.
type MemoryConnection struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	SourceMemoryID string             `json:"source_memory_id"`
	TargetMemoryID string             `json:"target_memory_id"`
	Type           ConnectionType     `json:"connection_type"`
	Strength       float64            `json:"strength"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      int64              `json:"created_at"`
	Metadata       ConnectionMetadata `json:"metadata"`
}

// ConnectionRule is a user-supplied semantic pattern evaluated at ladder
// level L1. SemanticDescription is mandatory: the rule matches when the
// description's embedding is close to the candidate memories.
type ConnectionRule struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	SemanticDescription string         `json:"semantic_description"`
	SemanticEmbedding   []float32      `json:"-"`
	ConnectionType      ConnectionType `json:"connection_type"`
	Confidence          float64        `json:"confidence"`
	SemanticThreshold   float64        `json:"semantic_threshold,omitempty"` // 0 means default 0.75
	RequiresBoth        *bool          `json:"requires_both_memories,omitempty"`
	Enabled             bool           `json:"enabled"`
}

// Threshold returns the configured semantic threshold or the 0.75 default.
func (r *ConnectionRule) Threshold() float64 {
	if r.SemanticThreshold <= 0 {
		return 0.75
	}
	return r.SemanticThreshold
}

// RequiresBothMemories defaults to true when unset.
func (r *ConnectionRule) RequiresBothMemories() bool {
	if r.RequiresBoth == nil {
		return true
	}
	return *r.RequiresBoth
}

// ConnectionAnalysis is the outcome of classifying a candidate pair.
type ConnectionAnalysis struct {
	Type       ConnectionType
	Confidence float64
	Reasoning  string
	Method     DiscoveryMethod
	LLMUsed    bool
}

// AttachedConnection is an edge attached to a recalled memory, with the
// direction relative to that memory.
type AttachedConnection struct {
	Connection MemoryConnection `json:"connection"`
	Direction  string           `json:"direction"` // "outgoing" or "incoming"
}
