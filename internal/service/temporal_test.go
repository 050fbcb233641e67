package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/llm"
)

func newTestAnalyzer(gw *mockGateway, structured domain.StructuredLLM) *TemporalAnalyzer {
	return NewTemporalAnalyzer(gw, structured, NewCostTracker(), testIntelligence(), testLogger())
}

// seedBurst creates n memories one minute apart starting at base.
func seedBurst(gw *mockGateway, prefix string, n int, base time.Time) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s_%02d", prefix, i)
		seedMemory(gw, id, "user-1", "agent-1", fmt.Sprintf("event %d", i), domain.MemoryTypeEpisodic, base.Add(time.Duration(i)*time.Minute).UnixMilli())
		ids[i] = id
	}
	return ids
}

func TestAnalyzePatterns_TooFewMemories(t *testing.T) {
	gw := newMockGateway()
	seedBurst(gw, "ep", 4, time.Now().Add(-time.Hour))

	patterns, err := newTestAnalyzer(gw, nil).AnalyzePatterns(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns below the minimum, got %d", len(patterns))
	}
}

func TestAnalyzePatterns_DetectsBurst(t *testing.T) {
	gw := newMockGateway()
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ids := seedBurst(gw, "ep", 7, base)

	patterns, err := newTestAnalyzer(gw, nil).AnalyzePatterns(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var bursts []domain.TemporalPattern
	for _, p := range patterns {
		if p.Type == domain.PatternBurst {
			bursts = append(bursts, p)
		}
	}
	if len(bursts) != 1 {
		t.Fatalf("expected exactly 1 burst pattern, got %d", len(bursts))
	}
	b := bursts[0]
	if len(b.MemoryIDs) != len(ids) {
		t.Fatalf("burst covers %d memories, want %d", len(b.MemoryIDs), len(ids))
	}
	// Seven memories in the window: confidence is 7/10.
	if b.Confidence < 0.69 || b.Confidence > 0.71 {
		t.Fatalf("burst confidence %f, want 0.7", b.Confidence)
	}

	// Patterns come back ordered by confidence.
	for i := 1; i < len(patterns); i++ {
		if patterns[i-1].Confidence < patterns[i].Confidence {
			t.Fatal("patterns not sorted by descending confidence")
		}
	}
}

func TestAnalyzePatterns_ShiftByWholeWeeksIsStable(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	type sig struct {
		t domain.TemporalPatternType
		f string
		c float64
	}
	signatures := func(shift time.Duration) map[sig]bool {
		gw := newMockGateway()
		seedBurst(gw, "ep", 7, base.Add(shift))
		patterns, err := newTestAnalyzer(gw, nil).AnalyzePatterns(context.Background(), "user-1", "agent-1", nil)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		out := make(map[sig]bool, len(patterns))
		for _, p := range patterns {
			out[sig{p.Type, p.Frequency, p.Confidence}] = true
		}
		return out
	}

	before := signatures(0)
	after := signatures(7 * 24 * time.Hour)
	if len(before) != len(after) {
		t.Fatalf("pattern sets differ in size: %d vs %d", len(before), len(after))
	}
	for s := range before {
		if !after[s] {
			t.Fatalf("pattern %+v lost after shifting by whole weeks", s)
		}
	}
}

func TestAnalyzePatterns_LLMInsightRespectsBudget(t *testing.T) {
	gw := newMockGateway()
	seedBurst(gw, "ep", 25, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	spy := llm.NewMockClient()
	cfg := testIntelligence()
	cfg.CostControl.MonthlyBudget = 0

	analyzer := NewTemporalAnalyzer(gw, spy, NewCostTracker(), cfg, testLogger())
	if _, err := analyzer.AnalyzePatterns(context.Background(), "user-1", "agent-1", nil); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if spy.CallCount() != 0 {
		t.Fatalf("expected no LLM calls with zero budget, got %d", spy.CallCount())
	}
}

func TestAnalyzePatterns_LLMInsight(t *testing.T) {
	gw := newMockGateway()
	seedBurst(gw, "ep", 25, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	spy := llm.NewMockClient()
	spy.Response = &domain.GeneratedObject{
		Object: map[string]any{
			"description": "Morning journaling routine",
			"frequency":   "daily-morning",
			"confidence":  0.65,
		},
		Usage: &domain.TokenUsage{TotalTokens: 80},
	}

	patterns, err := newTestAnalyzer(gw, spy).AnalyzePatterns(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var insight *domain.TemporalPattern
	for i := range patterns {
		if patterns[i].LLMGenerated {
			insight = &patterns[i]
		}
	}
	if insight == nil {
		t.Fatal("expected an LLM-generated pattern")
	}
	if insight.Frequency != "daily-morning" || insight.Confidence != 0.65 {
		t.Fatalf("unexpected insight %+v", insight)
	}
	if spy.CallCount() != 1 {
		t.Fatalf("expected 1 LLM call, got %d", spy.CallCount())
	}
}

func TestDetectActivityClusters(t *testing.T) {
	gw := newMockGateway()
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	// Four memories spanning 30 minutes, with overlapping keywords.
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("ep_%d", i)
		seedMemory(gw, id, "user-1", "agent-1", "planning session", domain.MemoryTypeEpisodic, base.Add(time.Duration(i*10)*time.Minute).UnixMilli())
		gw.memory(id).Keywords = []string{"planning", fmt.Sprintf("topic-%d", i)}
	}
	// A lone memory hours later must not join or form a cluster.
	seedMemory(gw, "ep_lone", "user-1", "agent-1", "stray thought", domain.MemoryTypeEpisodic, base.Add(5*time.Hour).UnixMilli())

	clusters, err := newTestAnalyzer(gw, nil).DetectActivityClusters(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("clusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	c := clusters[0]
	if len(c.MemoryIDs) != 4 {
		t.Fatalf("cluster has %d memories, want 4", len(c.MemoryIDs))
	}
	// Four memories over half an hour: 4 / 0.5 / 10.
	if c.Intensity < 0.79 || c.Intensity > 0.81 {
		t.Fatalf("intensity %f, want 0.8", c.Intensity)
	}
	if len(c.Topics) != 5 {
		t.Fatalf("topics capped at 5, got %d: %v", len(c.Topics), c.Topics)
	}
	if c.Topics[0] != "planning" {
		t.Fatalf("expected shared keyword first, got %v", c.Topics)
	}
}

func TestDedupePatterns(t *testing.T) {
	in := []domain.TemporalPattern{
		{Type: domain.PatternHourly, Frequency: "hour-9", Confidence: 0.5},
		{Type: domain.PatternHourly, Frequency: "hour-9", Confidence: 0.9},
		{Type: domain.PatternWeekly, Frequency: "day-1", Confidence: 0.6},
	}
	out := dedupePatterns(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduped patterns, got %d", len(out))
	}
	for _, p := range out {
		if p.Frequency == "hour-9" && p.Confidence != 0.9 {
			t.Fatalf("kept the lower-confidence duplicate: %+v", p)
		}
	}
}

func TestAnalyzePatterns_WindowFilter(t *testing.T) {
	gw := newMockGateway()
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	seedBurst(gw, "ep", 7, base)

	// Window that excludes everything.
	window := &domain.TimeRange{
		Start: base.Add(24 * time.Hour).UnixMilli(),
		End:   base.Add(48 * time.Hour).UnixMilli(),
	}
	patterns, err := newTestAnalyzer(gw, nil).AnalyzePatterns(context.Background(), "user-1", "agent-1", window)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns outside the window, got %d", len(patterns))
	}
}
