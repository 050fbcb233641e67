package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"github.com/mnemoslab/mnemos/internal/llm"
	"go.uber.org/zap"
)

const (
	// fastPathSimilarity is the L0 cutoff: above it the pair is "similar"
	// without consulting rules or the LLM.
	fastPathSimilarity = 0.9
	// heuristicHighSimilarity and heuristicSequentialSimilarity gate the
	// L3 temporal heuristics.
	heuristicHighSimilarity       = 0.85
	heuristicSequentialSimilarity = 0.75

	defaultMaxEdgesPerBatch = 10
)

// RecentLister is the optional gateway capability for one-call recent
// scans. Without it the manager merges per-type listings.
type RecentLister interface {
	GetRecent(ctx context.Context, userID, agentID string, limit int) ([]domain.Memory, error)
}

// EmbeddingWriter lets discovery persist the vector it computed for the
// new memory, keeping the write path free of embedding latency.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, userID, id string, vec []float32) error
}

// ConnectionManager runs progressive-enhancement connection discovery:
// embedding fast path, then user rules, then a budgeted LLM, then a
// temporal heuristic. It owns edge persistence.
type ConnectionManager struct {
	gateway  domain.StorageGateway
	embedder *embedding.Service
	llm      domain.StructuredLLM
	costs    *CostTracker
	cfg      config.Intelligence
	logger   *zap.Logger

	rulesMu sync.Mutex
	rules   []domain.ConnectionRule
}

func NewConnectionManager(
	gateway domain.StorageGateway,
	embedder *embedding.Service,
	llm domain.StructuredLLM,
	costs *CostTracker,
	cfg config.Intelligence,
	logger *zap.Logger,
) *ConnectionManager {
	return &ConnectionManager{
		gateway:  gateway,
		embedder: embedder,
		llm:      llm,
		costs:    costs,
		cfg:      cfg,
		logger:   logger,
		rules:    cfg.ConnectionDetection.UserRules.Patterns,
	}
}

// GetMemoryByID fetches a memory scoped to the user.
func (m *ConnectionManager) GetMemoryByID(ctx context.Context, userID, id string) (*domain.Memory, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return m.gateway.GetByID(ctx, userID, id)
}

// DiscoverConnections scans the most recent memories of the (user, agent)
// pair and emits candidate edges from the new memory. Per-candidate
// failures are skipped; a fatal storage error logs and returns no edges.
func (m *ConnectionManager) DiscoverConnections(ctx context.Context, userID, agentID string, newMemory *domain.Memory) ([]domain.MemoryConnection, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if newMemory == nil {
		return nil, nil
	}

	candidates, err := m.recentMemories(ctx, userID, agentID)
	if err != nil {
		m.logger.Warn("discovery: recent scan failed",
			zap.String("user", domain.TruncateID(userID)),
			zap.Error(err))
		return nil, nil
	}

	newEmbedding, err := m.embedder.Generate(ctx, newMemory.Content)
	if err != nil {
		m.logger.Warn("discovery: embedding failed for new memory",
			zap.String("user", domain.TruncateID(userID)),
			zap.String("memory_id", newMemory.ID),
			zap.Error(err))
		return nil, nil
	}
	if writer, ok := m.gateway.(EmbeddingWriter); ok {
		if err := writer.SetEmbedding(ctx, userID, newMemory.ID, newEmbedding); err != nil {
			m.logger.Debug("discovery: embedding persist failed", zap.Error(err))
		}
	}

	threshold := m.cfg.Embedding.SimilarityThreshold

	var edges []domain.MemoryConnection
	for i := range candidates {
		c := &candidates[i]
		if c.ID == newMemory.ID {
			continue
		}

		candEmbedding, err := m.embedder.Generate(ctx, c.Content)
		if err != nil {
			// Embedding failure downgrades to skipping this candidate.
			m.logger.Debug("discovery: candidate embedding failed",
				zap.String("memory_id", c.ID), zap.Error(err))
			continue
		}

		sim := embedding.Cosine(newEmbedding, candEmbedding)
		if sim < threshold {
			continue
		}

		analysis, err := m.analyzeConnectionType(ctx, agentID, newMemory, c, sim)
		if err != nil {
			return nil, err
		}

		if analysis.Type != domain.ConnectionSimilar || sim > threshold {
			strength := sim
			if analysis.Confidence > strength {
				strength = analysis.Confidence
			}
			if strength > 1 {
				strength = 1
			}
			edges = append(edges, domain.MemoryConnection{
				ID:             uuid.NewString(),
				UserID:         userID,
				SourceMemoryID: newMemory.ID,
				TargetMemoryID: c.ID,
				Type:           analysis.Type,
				Strength:       strength,
				Reason:         analysis.Reasoning,
				CreatedAt:      time.Now().UnixMilli(),
				Metadata: domain.ConnectionMetadata{
					Method:              analysis.Method,
					Confidence:          analysis.Confidence,
					EmbeddingSimilarity: sim,
					LLMUsed:             analysis.LLMUsed,
				},
			})
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Strength > edges[j].Strength
	})
	max := m.cfg.CostControl.MaxLLMCallsPerBatch
	if max <= 0 {
		max = defaultMaxEdgesPerBatch
	}
	if len(edges) > max {
		edges = edges[:max]
	}
	return edges, nil
}

// recentMemories returns the newest memories for the pair, preferring the
// gateway's single-scan capability.
func (m *ConnectionManager) recentMemories(ctx context.Context, userID, agentID string) ([]domain.Memory, error) {
	limit := m.cfg.ConnectionDetection.MaxRecentMemories
	if lister, ok := m.gateway.(RecentLister); ok {
		return lister.GetRecent(ctx, userID, agentID, limit)
	}

	var all []domain.Memory
	for _, t := range domain.AllMemoryTypes() {
		batch, err := m.gateway.GetByType(ctx, userID, agentID, t, domain.ListOpts{Limit: limit})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// analyzeConnectionType walks the four-level ladder. Only a misconfigured
// rule surfaces an error; everything else degrades to the next level.
func (m *ConnectionManager) analyzeConnectionType(ctx context.Context, agentID string, m1, m2 *domain.Memory, sim float64) (*domain.ConnectionAnalysis, error) {
	// L0: fast path on very high similarity.
	if m.cfg.CostControl.PreferEmbeddingWhenSimilar && sim > fastPathSimilarity {
		return &domain.ConnectionAnalysis{
			Type:       domain.ConnectionSimilar,
			Confidence: sim,
			Reasoning:  "High embedding similarity",
			Method:     domain.MethodEmbedding,
		}, nil
	}

	// L1: user rules, free of cost.
	if m.rulesEnabled() {
		analysis, err := m.evaluateRules(ctx, m1, m2)
		if err != nil {
			return nil, err
		}
		if analysis != nil {
			return analysis, nil
		}
	}

	// L2: budgeted LLM classification.
	if m.llmEnabled() {
		if m.costs.CheckBudget(agentID, m.cfg.CostControl.MonthlyBudget) {
			if analysis := m.classifyWithLLM(ctx, agentID, m1, m2); analysis != nil {
				return analysis, nil
			}
		} else {
			m.logger.Debug("discovery: llm skipped, budget exceeded",
				zap.String("agent", domain.TruncateID(agentID)))
		}
	}

	// L3: heuristic fallback on similarity and temporal proximity.
	return heuristicAnalysis(m1, m2, sim), nil
}

func (m *ConnectionManager) rulesEnabled() bool {
	method := m.cfg.ConnectionDetection.Method
	if method != config.MethodUserRules && method != config.MethodHybrid {
		return false
	}
	return m.cfg.ConnectionDetection.UserRules.Enabled && len(m.rules) > 0
}

func (m *ConnectionManager) llmEnabled() bool {
	method := m.cfg.ConnectionDetection.Method
	if method != config.MethodSmallLLM && method != config.MethodHybrid {
		return false
	}
	return m.cfg.ConnectionDetection.LLMEnhancement.Enabled && m.llm != nil
}

// evaluateRules runs the enabled user rules in order and returns the first
// match. A rule without a semantic description is a hard failure; any
// other evaluation error is logged and treated as a non-match.
func (m *ConnectionManager) evaluateRules(ctx context.Context, m1, m2 *domain.Memory) (*domain.ConnectionAnalysis, error) {
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()

	for i := range m.rules {
		rule := &m.rules[i]
		if !rule.Enabled {
			continue
		}
		if rule.SemanticDescription == "" {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, ErrRuleMisconfigured)
		}

		if rule.SemanticEmbedding == nil {
			vec, err := m.embedder.Generate(ctx, rule.SemanticDescription)
			if err != nil {
				m.logger.Warn("rule embedding failed, treating as non-match",
					zap.String("rule", rule.Name), zap.Error(err))
				continue
			}
			rule.SemanticEmbedding = vec
		}

		em1, err := m.embedder.Generate(ctx, m1.Content)
		if err != nil {
			m.logger.Warn("rule evaluation failed, treating as non-match",
				zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		em2, err := m.embedder.Generate(ctx, m2.Content)
		if err != nil {
			m.logger.Warn("rule evaluation failed, treating as non-match",
				zap.String("rule", rule.Name), zap.Error(err))
			continue
		}

		t := rule.Threshold()
		sim1 := embedding.Cosine(rule.SemanticEmbedding, em1)
		sim2 := embedding.Cosine(rule.SemanticEmbedding, em2)

		var matched bool
		if rule.RequiresBothMemories() {
			matched = sim1 >= t && sim2 >= t
		} else {
			matched = sim1 >= t || sim2 >= t
		}
		if matched {
			return &domain.ConnectionAnalysis{
				Type:       rule.ConnectionType,
				Confidence: rule.Confidence,
				Reasoning:  fmt.Sprintf("Semantic match: %s - %s", rule.Name, rule.SemanticDescription),
				Method:     domain.MethodUserRule,
			}, nil
		}
	}
	return nil, nil
}

// classifyWithLLM asks the structured LLM to type the pair. Any provider or
// validation failure returns nil so the caller advances to the heuristic.
func (m *ConnectionManager) classifyWithLLM(ctx context.Context, agentID string, m1, m2 *domain.Memory) *domain.ConnectionAnalysis {
	enh := m.cfg.ConnectionDetection.LLMEnhancement

	out, err := m.llm.GenerateObject(ctx,
		llm.ConnectionSchema(),
		llm.ConnectionMessages(m1.Content, m2.Content),
		enh.Temperature,
	)
	if err != nil {
		m.logger.Warn("llm classification failed, falling back to heuristic",
			zap.String("agent", domain.TruncateID(agentID)),
			zap.Error(err))
		return nil
	}

	connType, _ := out.Object["connectionType"].(string)
	confidence, _ := out.Object["confidence"].(float64)
	reasoning, _ := out.Object["reasoning"].(string)
	if !domain.ValidConnectionType(connType) || confidence < enh.MinConfidence {
		return nil
	}

	m.trackLLMCost(agentID, out.Usage)

	return &domain.ConnectionAnalysis{
		Type:       domain.ConnectionType(connType),
		Confidence: confidence,
		Reasoning:  reasoning,
		Method:     domain.MethodLLM,
		LLMUsed:    true,
	}
}

func (m *ConnectionManager) trackLLMCost(agentID string, usage *domain.TokenUsage) {
	enh := m.cfg.ConnectionDetection.LLMEnhancement

	var cost float64
	switch {
	case enh.CostPerToken > 0 && usage != nil:
		cost = enh.CostPerToken * float64(usage.TotalTokens)
	case enh.CostPerOperation > 0:
		cost = enh.CostPerOperation
	default:
		m.logger.Warn("llm cost not configured, tracking zero cost")
	}

	m.costs.TrackExtraction(agentID, Extraction{
		ExtractorType: "connection-classification",
		Cost:          cost,
		At:            time.Now().UnixMilli(),
	})
}

// heuristicAnalysis is L3: similarity plus temporal proximity.
func heuristicAnalysis(m1, m2 *domain.Memory, sim float64) *domain.ConnectionAnalysis {
	dt := m2.CreatedAt - m1.CreatedAt
	hours := float64(dt) / float64(time.Hour/time.Millisecond)

	switch {
	case sim > heuristicHighSimilarity && hours < 24 && hours > -24:
		return &domain.ConnectionAnalysis{
			Type:       domain.ConnectionRelated,
			Confidence: sim * 0.8,
			Reasoning:  "High similarity + temporal proximity",
			Method:     domain.MethodHeuristic,
		}
	case sim > heuristicSequentialSimilarity && hours > 0 && hours < 1:
		return &domain.ConnectionAnalysis{
			Type:       domain.ConnectionRelated,
			Confidence: sim * 0.7,
			Reasoning:  "Sequential content",
			Method:     domain.MethodHeuristic,
		}
	default:
		return &domain.ConnectionAnalysis{
			Type:       domain.ConnectionSimilar,
			Confidence: sim,
			Reasoning:  "Embedding similarity above threshold",
			Method:     domain.MethodHeuristic,
		}
	}
}

// CreateConnections persists discovered edges, preferring the gateway's
// atomic batch writer and falling back to per-edge keyed writes. Empty
// input is a no-op. Malformed edges (self-loops, foreign userID) are
// rejected before anything is written.
func (m *ConnectionManager) CreateConnections(ctx context.Context, userID string, edges []domain.MemoryConnection) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if len(edges) == 0 {
		return nil
	}

	clean := make([]domain.MemoryConnection, 0, len(edges))
	for _, e := range edges {
		if e.SourceMemoryID == e.TargetMemoryID {
			continue
		}
		if e.UserID != "" && e.UserID != userID {
			continue
		}
		e.UserID = userID
		if e.Strength < 0 {
			e.Strength = 0
		}
		if e.Strength > 1 {
			e.Strength = 1
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		clean = append(clean, e)
	}
	if len(clean) == 0 {
		return nil
	}

	if batch, ok := m.gateway.(domain.ConnectionBatchWriter); ok {
		if err := batch.CreateConnections(ctx, userID, clean); err != nil {
			return fmt.Errorf("persist connections: %w", err)
		}
		return nil
	}

	if writer, ok := m.gateway.(domain.ConnectionWriter); ok {
		for _, e := range clean {
			key := fmt.Sprintf("user:%s:connection:%s:%s", userID, e.SourceMemoryID, e.TargetMemoryID)
			if err := writer.PutConnection(ctx, key, e); err != nil {
				return fmt.Errorf("persist connection %s: %w", key, err)
			}
		}
		return nil
	}

	return fmt.Errorf("storage gateway has no connection write capability")
}

// SetRules replaces the user rule set. Cached rule embeddings reset.
func (m *ConnectionManager) SetRules(rules []domain.ConnectionRule) error {
	for i := range rules {
		if rules[i].SemanticDescription == "" {
			return fmt.Errorf("rule %q: %w", rules[i].Name, ErrRuleMisconfigured)
		}
	}
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()
	m.rules = rules
	return nil
}
