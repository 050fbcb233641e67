package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/llm"
	"go.uber.org/zap"
)

const (
	// minMemoriesForPatterns gates the whole analysis; fewer yields nothing.
	minMemoriesForPatterns = 5
	// minMemoriesForLLMInsight gates the paid insight pass.
	minMemoriesForLLMInsight = 20

	hourlyPeakFactor = 1.5
	weeklyPeakFactor = 1.3

	burstWindow      = 30 * time.Minute
	burstMinMemories = 5

	clusterWindow      = time.Hour
	clusterMinMemories = 3
	clusterMaxTopics   = 5
)

// TemporalAnalyzer mines creation-time regularities out of a user's
// memories: hour-of-day and day-of-week peaks, bursts, and dense activity
// clusters. The statistical passes are free; the LLM insight pass is
// budget-gated.
type TemporalAnalyzer struct {
	gateway domain.StorageGateway
	llm     domain.StructuredLLM
	costs   *CostTracker
	cfg     config.Intelligence
	logger  *zap.Logger
}

func NewTemporalAnalyzer(gateway domain.StorageGateway, structured domain.StructuredLLM, costs *CostTracker, cfg config.Intelligence, logger *zap.Logger) *TemporalAnalyzer {
	return &TemporalAnalyzer{gateway: gateway, llm: structured, costs: costs, cfg: cfg, logger: logger}
}

// AnalyzePatterns mines hourly, weekly and burst patterns from the user's
// memories within the optional window. Fewer than five memories yields an
// empty result, not an error.
func (a *TemporalAnalyzer) AnalyzePatterns(ctx context.Context, userID, agentID string, window *domain.TimeRange) ([]domain.TemporalPattern, error) {
	memories, err := a.loadMemories(ctx, userID, agentID, window)
	if err != nil {
		return nil, err
	}
	if len(memories) < minMemoriesForPatterns {
		return []domain.TemporalPattern{}, nil
	}

	var patterns []domain.TemporalPattern
	patterns = append(patterns, hourlyPatterns(memories)...)
	patterns = append(patterns, weeklyPatterns(memories)...)
	patterns = append(patterns, burstPatterns(memories)...)

	if a.llmInsightAllowed(agentID, len(memories)) {
		if insight := a.llmInsight(ctx, agentID, memories); insight != nil {
			patterns = append(patterns, *insight)
		}
	}

	patterns = dedupePatterns(patterns)
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Confidence > patterns[j].Confidence
	})
	return patterns, nil
}

// DetectActivityClusters groups memories into hour-long windows of dense
// creation activity, ranked by intensity.
func (a *TemporalAnalyzer) DetectActivityClusters(ctx context.Context, userID, agentID string, window *domain.TimeRange) ([]domain.ActivityCluster, error) {
	memories, err := a.loadMemories(ctx, userID, agentID, window)
	if err != nil {
		return nil, err
	}
	return activityClusters(memories), nil
}

func (a *TemporalAnalyzer) loadMemories(ctx context.Context, userID, agentID string, window *domain.TimeRange) ([]domain.Memory, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if agentID == "" {
		return nil, ErrInvalidAgent
	}

	var memories []domain.Memory
	if lister, ok := a.gateway.(RecentLister); ok {
		all, err := lister.GetRecent(ctx, userID, agentID, 0)
		if err != nil {
			return nil, err
		}
		memories = all
	} else {
		for _, t := range domain.AllMemoryTypes() {
			batch, err := a.gateway.GetByType(ctx, userID, agentID, t, domain.ListOpts{})
			if err != nil {
				return nil, err
			}
			memories = append(memories, batch...)
		}
	}

	if window != nil {
		filtered := memories[:0]
		for _, m := range memories {
			if window.Contains(m.CreatedAt) {
				filtered = append(filtered, m)
			}
		}
		memories = filtered
	}

	sort.Slice(memories, func(i, j int) bool { return memories[i].CreatedAt < memories[j].CreatedAt })
	return memories, nil
}

// hourlyPatterns flags hours of the day whose count exceeds 1.5x the mean.
func hourlyPatterns(memories []domain.Memory) []domain.TemporalPattern {
	var counts [24]int
	ids := make(map[int][]string)
	for _, m := range memories {
		h := time.UnixMilli(m.CreatedAt).UTC().Hour()
		counts[h]++
		ids[h] = append(ids[h], m.ID)
	}

	mean := float64(len(memories)) / 24
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	confidence := minFloat(0.9, float64(maxCount)/mean/3)

	var out []domain.TemporalPattern
	for h, c := range counts {
		if float64(c) > hourlyPeakFactor*mean {
			out = append(out, domain.TemporalPattern{
				Type:        domain.PatternHourly,
				Description: fmt.Sprintf("Elevated memory activity around %02d:00 (%d memories)", h, c),
				Frequency:   fmt.Sprintf("hour-%d", h),
				Confidence:  confidence,
				MemoryIDs:   ids[h],
			})
		}
	}
	return out
}

// weeklyPatterns flags days of the week whose count exceeds 1.3x the mean.
func weeklyPatterns(memories []domain.Memory) []domain.TemporalPattern {
	var counts [7]int
	ids := make(map[int][]string)
	for _, m := range memories {
		d := int(time.UnixMilli(m.CreatedAt).UTC().Weekday())
		counts[d]++
		ids[d] = append(ids[d], m.ID)
	}

	mean := float64(len(memories)) / 7
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	confidence := minFloat(0.85, float64(maxCount)/mean/2.5)

	var out []domain.TemporalPattern
	for d, c := range counts {
		if float64(c) > weeklyPeakFactor*mean {
			out = append(out, domain.TemporalPattern{
				Type:        domain.PatternWeekly,
				Description: fmt.Sprintf("Elevated memory activity on %s (%d memories)", time.Weekday(d), c),
				Frequency:   fmt.Sprintf("day-%d", d),
				Confidence:  confidence,
				MemoryIDs:   ids[d],
			})
		}
	}
	return out
}

// burstPatterns slides a 30-minute window over the sorted timestamps and
// emits a pattern wherever five or more memories land inside it. After an
// emission the scan skips half the window to avoid overlapping reports.
func burstPatterns(memories []domain.Memory) []domain.TemporalPattern {
	var out []domain.TemporalPattern
	windowMs := burstWindow.Milliseconds()

	for i := 0; i < len(memories); {
		end := memories[i].CreatedAt + windowMs
		j := i
		for j < len(memories) && memories[j].CreatedAt <= end {
			j++
		}
		size := j - i
		if size >= burstMinMemories {
			ids := make([]string, 0, size)
			for k := i; k < j; k++ {
				ids = append(ids, memories[k].ID)
			}
			out = append(out, domain.TemporalPattern{
				Type:        domain.PatternBurst,
				Description: fmt.Sprintf("Burst of %d memories within 30 minutes", size),
				Frequency:   "burst",
				Confidence:  minFloat(0.8, float64(size)/10),
				MemoryIDs:   ids,
			})
			i += size/2 + 1
			continue
		}
		i++
	}
	return out
}

// dedupePatterns keeps the highest-confidence entry per (type, frequency).
func dedupePatterns(patterns []domain.TemporalPattern) []domain.TemporalPattern {
	type key struct {
		t domain.TemporalPatternType
		f string
	}
	best := make(map[key]domain.TemporalPattern)
	var order []key
	for _, p := range patterns {
		k := key{p.Type, p.Frequency}
		if existing, ok := best[k]; !ok {
			best[k] = p
			order = append(order, k)
		} else if p.Confidence > existing.Confidence {
			best[k] = p
		}
	}
	out := make([]domain.TemporalPattern, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func (a *TemporalAnalyzer) llmInsightAllowed(agentID string, memoryCount int) bool {
	if a.llm == nil || memoryCount < minMemoriesForLLMInsight {
		return false
	}
	if !a.cfg.CostControl.PreferEmbeddingWhenSimilar {
		return false
	}
	return a.costs.CheckBudget(agentID, a.cfg.CostControl.MonthlyBudget)
}

// llmInsight asks the LLM for one extra pattern over an hour histogram.
// Failures log and return nil; the statistical passes stand on their own.
func (a *TemporalAnalyzer) llmInsight(ctx context.Context, agentID string, memories []domain.Memory) *domain.TemporalPattern {
	var counts [24]int
	for _, m := range memories {
		counts[time.UnixMilli(m.CreatedAt).UTC().Hour()]++
	}
	var b strings.Builder
	for h, c := range counts {
		if c > 0 {
			fmt.Fprintf(&b, "%02d: %d\n", h, c)
		}
	}

	temperature := llm.ClampTemperature(a.cfg.ConnectionDetection.LLMEnhancement.Temperature)
	result, err := a.llm.GenerateObject(ctx, llm.TemporalInsightSchema(), llm.TemporalInsightMessages(b.String()), temperature)
	if err != nil {
		a.logger.Warn("temporal: llm insight failed",
			zap.String("agent", domain.TruncateID(agentID)),
			zap.Error(err))
		return nil
	}

	description, _ := result.Object["description"].(string)
	frequency, _ := result.Object["frequency"].(string)
	confidence, _ := result.Object["confidence"].(float64)
	if description == "" || frequency == "" {
		return nil
	}

	a.trackInsightCost(agentID, result)

	return &domain.TemporalPattern{
		Type:         domain.PatternHourly,
		Description:  description,
		Frequency:    frequency,
		Confidence:   confidence,
		LLMGenerated: true,
	}
}

func (a *TemporalAnalyzer) trackInsightCost(agentID string, result *domain.GeneratedObject) {
	cc := a.cfg.ConnectionDetection.LLMEnhancement
	var cost float64
	switch {
	case cc.CostPerToken > 0 && result.Usage != nil:
		cost = cc.CostPerToken * float64(result.Usage.TotalTokens)
	case cc.CostPerOperation > 0:
		cost = cc.CostPerOperation
	default:
		a.logger.Warn("temporal: llm cost unconfigured, tracking zero",
			zap.String("agent", domain.TruncateID(agentID)))
	}
	a.costs.TrackExtraction(agentID, Extraction{
		ExtractorType: "temporal-insight",
		Cost:          cost,
		At:            time.Now().UnixMilli(),
	})
}

// activityClusters walks the sorted memories and closes a cluster whenever
// the next memory falls outside the hour window opened by the first one.
func activityClusters(memories []domain.Memory) []domain.ActivityCluster {
	var clusters []domain.ActivityCluster
	windowMs := clusterWindow.Milliseconds()

	for i := 0; i < len(memories); {
		end := memories[i].CreatedAt + windowMs
		j := i
		for j < len(memories) && memories[j].CreatedAt <= end {
			j++
		}
		if size := j - i; size >= clusterMinMemories {
			group := memories[i:j]
			durationHours := float64(group[len(group)-1].CreatedAt-group[0].CreatedAt) / float64(time.Hour.Milliseconds())
			ids := make([]string, len(group))
			for k, m := range group {
				ids[k] = m.ID
			}
			clusters = append(clusters, domain.ActivityCluster{
				Start:     group[0].CreatedAt,
				End:       group[len(group)-1].CreatedAt,
				MemoryIDs: ids,
				Intensity: minFloat(1.0, float64(size)/maxFloat(durationHours, 0.5)/10),
				Topics:    clusterTopics(group),
			})
		}
		i = j
	}

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].Intensity > clusters[j].Intensity })
	return clusters
}

// clusterTopics collects the union of member keywords, capped at five.
func clusterTopics(memories []domain.Memory) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, m := range memories {
		for _, kw := range m.Keywords {
			if !seen[kw] {
				seen[kw] = true
				topics = append(topics, kw)
				if len(topics) == clusterMaxTopics {
					return topics
				}
			}
		}
	}
	return topics
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
