package domain

import "context"

// RecallOpts narrows a storage-side recall.
type RecallOpts struct {
	Type            *MemoryType
	Limit           int
	TimeRange       *TimeRange
	IncludeMetadata bool
}

// TimeRange bounds a query window. Millisecond epoch, inclusive.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r *TimeRange) Contains(ts int64) bool {
	if r == nil {
		return true
	}
	return ts >= r.Start && ts <= r.End
}

// ListOpts narrows a by-type listing.
type ListOpts struct {
	CreatedBefore int64 // 0 means no bound
	Limit         int   // 0 means storage default
}

// MemoryStats summarises a user's store.
type MemoryStats struct {
	ByType        map[MemoryType]int `json:"by_type"`
	Total         int                `json:"total"`
	AvgImportance float64            `json:"avg_importance"`
}

// DecayOpts tunes a decay pass.
type DecayOpts struct {
	DecayRate        float64
	RemovalThreshold float64
}

// DecayResult reports what a decay pass touched.
type DecayResult struct {
	Processed int `json:"processed"`
	Decayed   int `json:"decayed"`
	Removed   int `json:"removed"`
}

// StorageGateway is the narrow storage surface the intelligence layer
// consumes. Every operation is scoped by userID; implementations own the
// storage-level isolation. Optional capabilities are separate interfaces
// below, detected by type assertion rather than duck typing.
type StorageGateway interface {
	Store(ctx context.Context, m *Memory) error
	Recall(ctx context.Context, userID, agentID, query string, opts RecallOpts) ([]MemoryWithScore, error)
	GetByID(ctx context.Context, userID, id string) (*Memory, error)
	GetByType(ctx context.Context, userID, agentID string, t MemoryType, opts ListOpts) ([]Memory, error)
	Delete(ctx context.Context, userID, agentID, id string) error
	GetStats(ctx context.Context, userID, agentID string) (*MemoryStats, error)
	TouchAccess(ctx context.Context, userID, id string) error
}

// ConnectionBatchWriter persists a batch of edges atomically.
type ConnectionBatchWriter interface {
	CreateConnections(ctx context.Context, userID string, edges []MemoryConnection) error
}

// ConnectionWriter is the per-edge fallback used when the gateway has no
// batch writer. Edges are keyed user:{userID}:connection:{src}:{tgt}.
type ConnectionWriter interface {
	PutConnection(ctx context.Context, key string, edge MemoryConnection) error
}

// ConnectionReader enables recall-time connection enrichment; its absence
// disables enrichment, never fails it.
type ConnectionReader interface {
	GetConnectionsForMemories(ctx context.Context, userID string, memoryIDs []string) ([]MemoryConnection, error)
}

// UserAgent identifies one tenant scope.
type UserAgent struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

// UserLister is the optional capability that lets background sweeps
// enumerate tenants; without it they only serve explicit calls.
type UserLister interface {
	ListUserAgents(ctx context.Context) ([]UserAgent, error)
}

// DecayApplier is optional; without it the core reports zeroed decay results.
type DecayApplier interface {
	ApplyDecay(ctx context.Context, userID, agentID string, opts DecayOpts) (*DecayResult, error)
}

// HybridSearcher is the optional vector-capable search surface. When the
// gateway implements it, recall fusion gets a real vector score.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, weights HybridWeights, opts RecallOpts) ([]MemoryWithScore, error)
}

// HybridWeights are the fusion coefficients for recall scoring.
type HybridWeights struct {
	Vector     float64 `json:"vector"`
	Text       float64 `json:"text"`
	Temporal   float64 `json:"temporal"`
	Procedural float64 `json:"procedural"`
}

// DefaultHybridWeights mirrors the recall fusion defaults.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Vector: 0.4, Text: 0.3, Temporal: 0.2, Procedural: 0.1}
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
