package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recallCacheSize = 1000
	// connectionBoostPerEdge and connectionBoostCap bound the relevance
	// boost from attached edges.
	connectionBoostPerEdge = 0.1
	connectionBoostCap     = 0.3
	// relatedExpansionTopN limits BFS expansion to the best candidates.
	relatedExpansionTopN = 10
	popularQueryCap      = 100
	// temporalHorizon is the age at which the temporal score reaches zero.
	temporalHorizon = 30 * 24 * time.Hour
)

// RecallService fans a query out across the four memory types, fuses the
// signals, enriches with stored connections and caches the result.
type RecallService struct {
	gateway  domain.StorageGateway
	types    *MemoryTypes
	embedder *embedding.Service
	queue    *DiscoveryQueue
	cfg      config.Intelligence
	logger   *zap.Logger

	cache *expirable.LRU[string, domain.RecallResult]

	metricsMu sync.Mutex
	metrics   domain.RecallMetrics
	popular   map[string]int
}

func NewRecallService(gateway domain.StorageGateway, types *MemoryTypes, embedder *embedding.Service, queue *DiscoveryQueue, cfg config.Intelligence, logger *zap.Logger) *RecallService {
	var cache *expirable.LRU[string, domain.RecallResult]
	if cfg.Recall.EnableCaching {
		cache = expirable.NewLRU[string, domain.RecallResult](recallCacheSize, nil, cfg.Recall.CacheTTL)
	}
	return &RecallService{
		gateway:  gateway,
		types:    types,
		embedder: embedder,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
		metrics:  domain.RecallMetrics{TypeDistribution: make(map[domain.MemoryType]int)},
		popular:  make(map[string]int),
	}
}

// NormalizeQuery lowercases, trims and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}

func (s *RecallService) cacheKey(q domain.RecallQuery, normQuery string, types []domain.MemoryType, limit int, minRelevance float64) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)

	var tr string
	if q.TimeRange != nil {
		tr = fmt.Sprintf("%d-%d", q.TimeRange.Start, q.TimeRange.End)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%.3f", q.UserID, q.AgentID, normQuery, strings.Join(names, ","), tr, limit, minRelevance)
}

// Recall executes the hybrid recall pipeline. Failures of a single memory
// type degrade to a partial result rather than an error.
func (s *RecallService) Recall(ctx context.Context, q domain.RecallQuery) (*domain.RecallResult, error) {
	start := time.Now()

	if q.UserID == "" {
		return nil, ErrInvalidUser
	}
	if q.AgentID == "" {
		return nil, ErrInvalidAgent
	}
	normQuery := NormalizeQuery(q.Query)
	if normQuery == "" {
		return nil, ErrEmptyQuery
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.Recall.DefaultLimit
	}
	minRelevance := q.MinRelevance
	if minRelevance <= 0 {
		minRelevance = s.cfg.Recall.MinRelevanceThreshold
	}

	types := q.MemoryTypes
	if len(types) == 0 {
		types = domain.AllMemoryTypes()
	}

	key := s.cacheKey(q, normQuery, types, limit, minRelevance)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			cached.CacheHit = true
			s.recordQuery(normQuery, time.Since(start), true, cached.Memories)
			return &cached, nil
		}
	}

	candidates, vectorUsed := s.fanOut(ctx, q, normQuery, types, limit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.fuse(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance > candidates[j].Relevance
		}
		return candidates[i].ID < candidates[j].ID
	})

	s.enrichConnections(ctx, q.UserID, candidates)

	if q.IncludeRelated && s.cfg.Recall.EnableRelated {
		s.expandRelated(candidates, q.ConnectionHops)
	}

	// The connection boost can reorder, so sort again on final relevance.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance > candidates[j].Relevance
		}
		return candidates[i].ID < candidates[j].ID
	})

	// Filter and trim after every boost has been applied.
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Relevance >= minRelevance {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	result := s.assemble(q, filtered, vectorUsed, start)

	if s.cache != nil {
		s.cache.Add(key, *result)
	}
	s.recordQuery(normQuery, time.Since(start), false, result.Memories)
	s.touchAccessed(q.UserID, result.Memories)

	return result, nil
}

// fanOut issues the per-type searches in parallel, each with its own
// budget, plus the vector search when the gateway is hybrid-capable.
// Individual failures log and contribute nothing.
func (s *RecallService) fanOut(ctx context.Context, q domain.RecallQuery, normQuery string, types []domain.MemoryType, limit int) ([]domain.RecalledMemory, bool) {
	var mu sync.Mutex
	byID := make(map[string]*domain.RecalledMemory)
	vectorUsed := false

	merge := func(results []domain.MemoryWithScore, vector bool) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range results {
			if q.TimeRange != nil && !q.TimeRange.Contains(r.CreatedAt) {
				continue
			}
			existing, ok := byID[r.ID]
			if !ok {
				existing = &domain.RecalledMemory{Memory: r.Memory}
				byID[r.ID] = existing
			}
			if vector {
				if r.Score > existing.VectorScore {
					existing.VectorScore = r.Score
				}
			} else if r.Score > existing.TextScore {
				existing.TextScore = r.Score
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, t := range types {
		t := t
		budget := typeBudget(t, limit)
		g.Go(func() error {
			results, err := s.types.Search(gctx, q.UserID, q.AgentID, normQuery, t, budget)
			if err != nil {
				s.logger.Warn("recall: type search failed",
					zap.String("user", domain.TruncateID(q.UserID)),
					zap.String("type", string(t)),
					zap.Error(err))
				return nil
			}
			merge(results, false)
			return nil
		})
	}

	if hybrid, ok := s.gateway.(domain.HybridSearcher); ok && s.cfg.Embedding.Enabled {
		g.Go(func() error {
			vec, err := s.embedder.Generate(gctx, normQuery)
			if err != nil {
				// Text-only fusion still works without the vector signal.
				s.logger.Warn("recall: query embedding failed, text-only fusion",
					zap.String("user", domain.TruncateID(q.UserID)),
					zap.Error(err))
				return nil
			}
			results, err := hybrid.HybridSearch(gctx, q.UserID, q.AgentID, normQuery, vec, s.cfg.Recall.Weights, domain.RecallOpts{Limit: limit, TimeRange: q.TimeRange})
			if err != nil {
				s.logger.Warn("recall: hybrid search failed", zap.Error(err))
				return nil
			}
			mu.Lock()
			vectorUsed = true
			mu.Unlock()
			merge(results, true)
			return nil
		})
	}

	_ = g.Wait()

	out := make([]domain.RecalledMemory, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	return out, vectorUsed
}

// typeBudget apportions the overall limit: a quarter for working, half for
// episodic, the native set for semantic and procedural.
func typeBudget(t domain.MemoryType, limit int) int {
	switch t {
	case domain.MemoryTypeWorking:
		b := limit / 4
		if b < 1 {
			b = 1
		}
		return b
	case domain.MemoryTypeEpisodic:
		b := limit / 2
		if b < 1 {
			b = 1
		}
		return b
	default:
		return limit
	}
}

// fuse computes the weighted hybrid score for every candidate and keeps
// the better of the per-type relevance and the fused value.
func (s *RecallService) fuse(candidates []domain.RecalledMemory) {
	w := s.cfg.Recall.Weights
	now := time.Now().UnixMilli()

	for i := range candidates {
		c := &candidates[i]

		perType := clamp01(c.TextScore)
		c.TemporalScore = temporalScore(now, c.CreatedAt)

		var proceduralScore float64
		switch c.Type {
		case domain.MemoryTypeEpisodic:
			perType = clamp01(perType + 0.2*c.TemporalScore)
		case domain.MemoryTypeSemantic:
			if conf, ok := c.Metadata["confidence"].(float64); ok {
				perType = clamp01(perType * (0.8 + 0.2*conf))
			}
		case domain.MemoryTypeProcedural:
			proceduralScore = clamp01(c.TextScore)
		}

		fused := w.Vector*c.VectorScore + w.Text*clamp01(c.TextScore) +
			w.Temporal*c.TemporalScore + w.Procedural*proceduralScore

		c.Relevance = math.Max(perType, fused)
	}
}

// temporalScore decays linearly from 1 (now) to 0 at the horizon.
func temporalScore(nowMs, createdMs int64) float64 {
	age := time.Duration(nowMs-createdMs) * time.Millisecond
	if age < 0 {
		return 1
	}
	score := 1 - float64(age)/float64(temporalHorizon)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// enrichConnections attaches stored edges to candidates and boosts their
// relevance by the edge count. Absence of the capability disables the
// step; errors degrade to no enrichment.
func (s *RecallService) enrichConnections(ctx context.Context, userID string, candidates []domain.RecalledMemory) {
	reader, ok := s.gateway.(domain.ConnectionReader)
	if !ok || len(candidates) == 0 {
		return
	}

	ids := make([]string, len(candidates))
	index := make(map[string]*domain.RecalledMemory, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
		index[candidates[i].ID] = &candidates[i]
	}

	edges, err := reader.GetConnectionsForMemories(ctx, userID, ids)
	if err != nil {
		s.logger.Warn("recall: connection enrichment failed",
			zap.String("user", domain.TruncateID(userID)),
			zap.Error(err))
		return
	}

	for _, e := range edges {
		if m, ok := index[e.SourceMemoryID]; ok {
			m.Connections = append(m.Connections, domain.AttachedConnection{Connection: e, Direction: "outgoing"})
		}
		if m, ok := index[e.TargetMemoryID]; ok {
			m.Connections = append(m.Connections, domain.AttachedConnection{Connection: e, Direction: "incoming"})
		}
	}

	for i := range candidates {
		if n := len(candidates[i].Connections); n > 0 {
			boost := connectionBoostPerEdge * float64(n)
			if boost > connectionBoostCap {
				boost = connectionBoostCap
			}
			candidates[i].Relevance = clamp01(candidates[i].Relevance + boost)
		}
	}
}

// expandRelated walks the attached edges breadth-first from each of the
// top candidates, recording reachable memory ids up to the hop limit.
func (s *RecallService) expandRelated(candidates []domain.RecalledMemory, hops int) {
	if hops <= 0 || hops > s.cfg.Recall.MaxRelatedDepth {
		hops = s.cfg.Recall.MaxRelatedDepth
	}

	// Adjacency over the edges attached during enrichment.
	adj := make(map[string][]string)
	for i := range candidates {
		for _, ac := range candidates[i].Connections {
			adj[ac.Connection.SourceMemoryID] = append(adj[ac.Connection.SourceMemoryID], ac.Connection.TargetMemoryID)
			adj[ac.Connection.TargetMemoryID] = append(adj[ac.Connection.TargetMemoryID], ac.Connection.SourceMemoryID)
		}
	}

	topN := relatedExpansionTopN
	if topN > len(candidates) {
		topN = len(candidates)
	}
	for i := 0; i < topN; i++ {
		c := &candidates[i]
		visited := map[string]bool{c.ID: true}
		frontier := []string{c.ID}
		for depth := 0; depth < hops; depth++ {
			var next []string
			for _, id := range frontier {
				for _, neighbor := range adj[id] {
					if !visited[neighbor] {
						visited[neighbor] = true
						c.Related = append(c.Related, neighbor)
						next = append(next, neighbor)
					}
				}
			}
			frontier = next
		}
		sort.Strings(c.Related)
	}
}

func (s *RecallService) assemble(q domain.RecallQuery, memories []domain.RecalledMemory, vectorUsed bool, start time.Time) *domain.RecallResult {
	strategy := "text+temporal"
	if vectorUsed {
		strategy = "vector+text+temporal"
	}

	sources := make(map[domain.MemoryType]int)
	var total float64
	var earliestConversation int64
	for _, m := range memories {
		sources[m.Type]++
		total += m.Relevance
		if raw, ok := m.Metadata["originalConversationDate"]; ok {
			if ts := asMillis(raw); ts > 0 && (earliestConversation == 0 || ts < earliestConversation) {
				earliestConversation = ts
			}
		}
	}

	result := &domain.RecallResult{
		Memories:        memories,
		TotalRelevance:  total,
		SearchStrategy:  strategy,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Sources:         sources,
	}
	if earliestConversation > 0 {
		result.ConversationContext = fmt.Sprintf("Includes memories from a conversation on %s.",
			time.UnixMilli(earliestConversation).UTC().Format("January 2, 2006"))
	}
	return result
}

func asMillis(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// touchAccessed bumps access counters in the background, the same
// fire-and-forget way discovery runs after a write.
func (s *RecallService) touchAccessed(userID string, memories []domain.RecalledMemory) {
	for _, m := range memories {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.gateway.TouchAccess(ctx, userID, id); err != nil {
				s.logger.Debug("recall: access touch failed", zap.String("memory_id", id), zap.Error(err))
			}
		}(m.ID)
	}
}

func (s *RecallService) recordQuery(normQuery string, elapsed time.Duration, cacheHit bool, memories []domain.RecalledMemory) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	s.metrics.TotalQueries++
	if cacheHit {
		s.metrics.CacheHits++
	}
	s.metrics.CacheHitRate = float64(s.metrics.CacheHits) / float64(s.metrics.TotalQueries)

	// Rolling average over all queries.
	n := float64(s.metrics.TotalQueries)
	s.metrics.AvgResponseTimeMs = s.metrics.AvgResponseTimeMs*(n-1)/n + float64(elapsed.Milliseconds())/n

	for _, m := range memories {
		s.metrics.TypeDistribution[m.Type]++
	}

	s.popular[normQuery]++
	if len(s.popular) > popularQueryCap {
		// Drop the least popular entry to keep the leaderboard bounded.
		minQuery, minCount := "", math.MaxInt
		for q, c := range s.popular {
			if c < minCount {
				minQuery, minCount = q, c
			}
		}
		delete(s.popular, minQuery)
	}
}

// Metrics returns a snapshot of the rolling recall counters.
func (s *RecallService) Metrics() domain.RecallMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	snapshot := s.metrics
	if s.queue != nil {
		snapshot.DroppedDiscovery = s.queue.Dropped()
	}
	snapshot.TypeDistribution = make(map[domain.MemoryType]int, len(s.metrics.TypeDistribution))
	for k, v := range s.metrics.TypeDistribution {
		snapshot.TypeDistribution[k] = v
	}
	snapshot.PopularQueries = make([]domain.QueryCount, 0, len(s.popular))
	for q, c := range s.popular {
		snapshot.PopularQueries = append(snapshot.PopularQueries, domain.QueryCount{Query: q, Count: c})
	}
	sort.Slice(snapshot.PopularQueries, func(i, j int) bool {
		if snapshot.PopularQueries[i].Count != snapshot.PopularQueries[j].Count {
			return snapshot.PopularQueries[i].Count > snapshot.PopularQueries[j].Count
		}
		return snapshot.PopularQueries[i].Query < snapshot.PopularQueries[j].Query
	})
	return snapshot
}
