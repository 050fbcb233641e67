package service

import (
	"context"
	"sort"
	"strings"
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
	// conversionMinImportance gates which episodic memories are promoted.
	conversionMinImportance = 0.5
	mergedKeywordCap        = 20
	consolidationRunTimeout = 5 * time.Minute
)

// Consolidator promotes aged episodic memories to semantic knowledge and
// merges near-duplicate semantic memories. It runs on demand or on a
// periodic ticker.
type Consolidator struct {
	gateway  domain.StorageGateway
	embedder *embedding.Service
	llm      domain.StructuredLLM
	cfg      config.Intelligence
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConsolidator(gateway domain.StorageGateway, embedder *embedding.Service, structured domain.StructuredLLM, cfg config.Intelligence, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		gateway:  gateway,
		embedder: embedder,
		llm:      structured,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic sweep. It is a no-op when the gateway cannot
// enumerate tenants.
func (c *Consolidator) Start() {
	lister, ok := c.gateway.(domain.UserLister)
	if !ok {
		c.logger.Info("consolidation: gateway cannot list tenants, periodic sweep disabled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Consolidation.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep(lister)
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Consolidator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Consolidator) sweep(lister domain.UserLister) {
	ctx, cancel := context.WithTimeout(context.Background(), consolidationRunTimeout)
	defer cancel()

	tenants, err := lister.ListUserAgents(ctx)
	if err != nil {
		c.logger.Warn("consolidation: tenant listing failed", zap.Error(err))
		return
	}
	for _, t := range tenants {
		if _, err := c.ConsolidateMemories(ctx, t.UserID, t.AgentID, nil); err != nil {
			c.logger.Warn("consolidation: sweep failed",
				zap.String("user", domain.TruncateID(t.UserID)),
				zap.String("agent", domain.TruncateID(t.AgentID)),
				zap.Error(err))
		}
	}
}

// ConsolidateMemories runs every strategy for one tenant. overrides, when
// non-nil, replaces the configured consolidation tuning for this run only.
func (c *Consolidator) ConsolidateMemories(ctx context.Context, userID, agentID string, overrides *config.ConsolidationConfig) ([]domain.ConsolidationResult, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if agentID == "" {
		return nil, ErrInvalidAgent
	}

	cfg := c.cfg.Consolidation
	if overrides != nil {
		cfg = *overrides
	}

	results := []domain.ConsolidationResult{
		c.convertEpisodic(ctx, userID, agentID, cfg),
		c.mergeSimilar(ctx, userID, agentID, cfg),
	}
	return results, nil
}

// convertEpisodic promotes episodic memories older than maxAge and above
// the importance gate into semantic copies.
func (c *Consolidator) convertEpisodic(ctx context.Context, userID, agentID string, cfg config.ConsolidationConfig) domain.ConsolidationResult {
	result := domain.ConsolidationResult{Strategy: domain.StrategyConvertEpisodic}

	cutoff := time.Now().Add(-cfg.MaxAge).UnixMilli()
	memories, err := c.gateway.GetByType(ctx, userID, agentID, domain.MemoryTypeEpisodic, domain.ListOpts{CreatedBefore: cutoff})
	if err != nil {
		c.logger.Warn("consolidation: episodic fetch failed", zap.String("user", domain.TruncateID(userID)), zap.Error(err))
		result.Errors++
		return result
	}

	for start := 0; start < len(memories); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(memories) {
			end = len(memories)
		}
		for _, m := range memories[start:end] {
			result.Processed++
			if m.Importance < conversionMinImportance {
				continue
			}
			if err := c.convertOne(ctx, userID, agentID, m, cfg); err != nil {
				c.logger.Warn("consolidation: convert failed", zap.String("memory_id", m.ID), zap.Error(err))
				result.Errors++
				continue
			}
			result.Created++
			if !cfg.PreserveOriginals {
				if err := c.gateway.Delete(ctx, userID, agentID, m.ID); err != nil {
					c.logger.Warn("consolidation: original delete failed", zap.String("memory_id", m.ID), zap.Error(err))
					result.Errors++
					continue
				}
				result.Deleted++
			}
		}
	}
	return result
}

func (c *Consolidator) convertOne(ctx context.Context, userID, agentID string, m domain.Memory, cfg config.ConsolidationConfig) error {
	content := m.Content
	method := "verbatim"
	if cfg.EnableLLMSummaries && c.llm != nil {
		if generalised, err := c.generateText(ctx, llm.GeneraliseMessages(m.Content)); err != nil {
			// Summarisation is best effort, the verbatim copy still converts.
			c.logger.Warn("consolidation: generalise failed, keeping verbatim content",
				zap.String("memory_id", m.ID), zap.Error(err))
		} else {
			content, method = generalised, "llm"
		}
	}

	importance := m.Importance + 0.1
	if importance > 1 {
		importance = 1
	}

	now := time.Now().UnixMilli()
	converted := &domain.Memory{
		ID:             domain.NewMemoryID(domain.MemoryTypeSemantic),
		UserID:         userID,
		AgentID:        agentID,
		Type:           domain.MemoryTypeSemantic,
		Content:        content,
		Importance:     importance,
		Resonance:      1.0,
		AccessCount:    m.AccessCount,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		TokenCount:     domain.EstimateTokens(content),
		Keywords:       m.Keywords,
		Metadata: map[string]any{
			"convertedFrom":    m.ID,
			"originalType":     string(domain.MemoryTypeEpisodic),
			"conversionDate":   now,
			"extractionMethod": method,
		},
	}
	return c.gateway.Store(ctx, converted)
}

// mergeSimilar clusters semantic memories by embedding similarity and
// collapses each cluster of two or more into a single merged memory.
func (c *Consolidator) mergeSimilar(ctx context.Context, userID, agentID string, cfg config.ConsolidationConfig) domain.ConsolidationResult {
	result := domain.ConsolidationResult{Strategy: domain.StrategyMergeSimilar}

	memories, err := c.gateway.GetByType(ctx, userID, agentID, domain.MemoryTypeSemantic, domain.ListOpts{})
	if err != nil {
		c.logger.Warn("consolidation: semantic fetch failed", zap.String("user", domain.TruncateID(userID)), zap.Error(err))
		result.Errors++
		return result
	}
	if len(memories) < 2 {
		result.Processed = len(memories)
		return result
	}

	vectors := make([][]float32, len(memories))
	for i, m := range memories {
		vec, err := c.embedder.Generate(ctx, m.Content)
		if err != nil {
			c.logger.Warn("consolidation: embedding failed", zap.String("memory_id", m.ID), zap.Error(err))
			result.Errors++
			continue
		}
		vectors[i] = vec
	}

	processed := make(map[string]bool)
	for i, m := range memories {
		if processed[m.ID] || vectors[i] == nil {
			continue
		}
		group := []int{i}
		for j := i + 1; j < len(memories); j++ {
			if processed[memories[j].ID] || vectors[j] == nil {
				continue
			}
			if embedding.Cosine(vectors[i], vectors[j]) > cfg.SimilarityThreshold {
				group = append(group, j)
			}
		}
		if len(group) < 2 {
			result.Processed++
			continue
		}

		members := make([]domain.Memory, len(group))
		for k, idx := range group {
			members[k] = memories[idx]
			processed[memories[idx].ID] = true
			result.Processed++
		}

		if err := c.mergeGroup(ctx, userID, agentID, members, cfg); err != nil {
			c.logger.Warn("consolidation: merge failed", zap.String("user", domain.TruncateID(userID)), zap.Error(err))
			result.Errors++
			continue
		}
		result.Merged++
		result.Created++
		if !cfg.PreserveOriginals {
			for _, member := range members {
				if err := c.gateway.Delete(ctx, userID, agentID, member.ID); err != nil {
					c.logger.Warn("consolidation: merged input delete failed", zap.String("memory_id", member.ID), zap.Error(err))
					result.Errors++
					continue
				}
				result.Deleted++
			}
		}
	}
	return result
}

func (c *Consolidator) mergeGroup(ctx context.Context, userID, agentID string, members []domain.Memory, cfg config.ConsolidationConfig) error {
	// Highest importance first, recency breaks ties; the head is primary.
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Importance != members[j].Importance {
			return members[i].Importance > members[j].Importance
		}
		return members[i].CreatedAt > members[j].CreatedAt
	})

	importance := members[0].Importance
	accessCount := 0
	createdAt := members[0].CreatedAt
	lastAccessedAt := members[0].LastAccessedAt
	var avgImportance float64
	ids := make([]string, len(members))
	for i, m := range members {
		accessCount += m.AccessCount
		avgImportance += m.Importance
		if m.CreatedAt < createdAt {
			createdAt = m.CreatedAt
		}
		if m.LastAccessedAt > lastAccessedAt {
			lastAccessedAt = m.LastAccessedAt
		}
		ids[i] = m.ID
	}
	avgImportance /= float64(len(members))

	content := c.mergedContent(ctx, members, cfg)
	confidence := minFloat(0.95, 0.7*avgImportance+0.3*minFloat(1, float64(len(members))/5))

	now := time.Now().UnixMilli()
	merged := &domain.Memory{
		ID:             domain.NewMemoryID(domain.MemoryTypeSemantic),
		UserID:         userID,
		AgentID:        agentID,
		Type:           domain.MemoryTypeSemantic,
		Content:        content,
		Importance:     importance,
		Resonance:      1.0,
		AccessCount:    accessCount,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
		LastAccessedAt: lastAccessedAt,
		TokenCount:     domain.EstimateTokens(content),
		Keywords:       mergedKeywords(members),
		Metadata: map[string]any{
			"mergedFrom": ids,
			"confidence": confidence,
			"mergeDate":  now,
			"mergeID":    uuid.NewString(),
		},
	}
	return c.gateway.Store(ctx, merged)
}

// mergedContent prefers an LLM synthesis, then falls back to joining the
// distinct member contents.
func (c *Consolidator) mergedContent(ctx context.Context, members []domain.Memory, cfg config.ConsolidationConfig) string {
	seen := make(map[string]bool)
	var unique []string
	for _, m := range members {
		if !seen[m.Content] {
			seen[m.Content] = true
			unique = append(unique, m.Content)
		}
	}

	if cfg.EnableLLMSummaries && c.llm != nil && len(unique) > 1 {
		if synthesised, err := c.generateText(ctx, llm.MergeMessages(unique)); err != nil {
			c.logger.Warn("consolidation: merge synthesis failed, concatenating", zap.Error(err))
		} else {
			return synthesised
		}
	}
	return strings.Join(unique, " ")
}

func mergedKeywords(members []domain.Memory) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range members {
		for _, kw := range m.Keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
				if len(out) == mergedKeywordCap {
					return out
				}
			}
		}
	}
	return out
}

func (c *Consolidator) generateText(ctx context.Context, messages []domain.Message) (string, error) {
	temperature := llm.ClampTemperature(c.cfg.ConnectionDetection.LLMEnhancement.Temperature)
	result, err := c.llm.GenerateObject(ctx, llm.TextSchema(), messages, temperature)
	if err != nil {
		return "", err
	}
	text, _ := result.Object["text"].(string)
	if text == "" {
		return "", &llm.ValidationError{Schema: "text_result", Field: "text", Detail: "empty"}
	}
	return text, nil
}
