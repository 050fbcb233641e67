package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"github.com/mnemoslab/mnemos/internal/llm"
)

func newTestConsolidator(t *testing.T, gw *mockGateway, client domain.Embedder, structured domain.StructuredLLM, cfg config.Intelligence) *Consolidator {
	t.Helper()
	return NewConsolidator(gw, newTestEmbedder(t, client), structured, cfg, testLogger())
}

func oldEpisodic(gw *mockGateway, id string, importance float64, ageDays int) {
	created := time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour).UnixMilli()
	seedMemory(gw, id, "user-1", "agent-1", fmt.Sprintf("episode %s", id), domain.MemoryTypeEpisodic, created)
	gw.memory(id).Importance = importance
}

func semanticList(t *testing.T, gw *mockGateway) []domain.Memory {
	t.Helper()
	out, err := gw.GetByType(context.Background(), "user-1", "agent-1", domain.MemoryTypeSemantic, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list semantic: %v", err)
	}
	return out
}

func TestConsolidate_ConvertsAgedEpisodic(t *testing.T) {
	gw := newMockGateway()
	oldEpisodic(gw, "ep_old", 0.6, 10)
	oldEpisodic(gw, "ep_trivial", 0.2, 10)
	oldEpisodic(gw, "ep_fresh", 0.9, 1) // inside max age, untouched

	c := newTestConsolidator(t, gw, embedding.NewMockClient(), nil, testIntelligence())
	results, err := c.ConsolidateMemories(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	convert := results[0]
	if convert.Strategy != domain.StrategyConvertEpisodic {
		t.Fatalf("unexpected strategy order: %s", convert.Strategy)
	}
	if convert.Processed != 2 || convert.Created != 1 || convert.Deleted != 0 || convert.Errors != 0 {
		t.Fatalf("convert result %+v, want processed=2 created=1 deleted=0", convert)
	}

	semantics := semanticList(t, gw)
	if len(semantics) != 1 {
		t.Fatalf("expected 1 converted semantic memory, got %d", len(semantics))
	}
	conv := semantics[0]
	if conv.Importance < 0.699 || conv.Importance > 0.701 {
		t.Fatalf("converted importance %f, want 0.7", conv.Importance)
	}
	if conv.Metadata["convertedFrom"] != "ep_old" {
		t.Fatalf("convertedFrom = %v", conv.Metadata["convertedFrom"])
	}
	if conv.Metadata["originalType"] != string(domain.MemoryTypeEpisodic) {
		t.Fatalf("originalType = %v", conv.Metadata["originalType"])
	}
	if conv.Metadata["extractionMethod"] != "verbatim" {
		t.Fatalf("extractionMethod = %v", conv.Metadata["extractionMethod"])
	}

	// Originals survive under the default preserve policy.
	if gw.memory("ep_old") == nil {
		t.Fatal("original episodic deleted despite preserve_originals")
	}
}

func TestConsolidate_DeletesOriginalsWhenNotPreserved(t *testing.T) {
	gw := newMockGateway()
	oldEpisodic(gw, "ep_old", 0.6, 10)

	overrides := config.DefaultIntelligence().Consolidation
	overrides.PreserveOriginals = false

	c := newTestConsolidator(t, gw, embedding.NewMockClient(), nil, testIntelligence())
	results, err := c.ConsolidateMemories(context.Background(), "user-1", "agent-1", &overrides)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if results[0].Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", results[0].Deleted)
	}
	if gw.memory("ep_old") != nil {
		t.Fatal("original episodic should be gone")
	}
}

func TestConsolidate_MergesSimilarSemantics(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	seedMemory(gw, "sm_a", "user-1", "agent-1", "prefers hostels when travelling", domain.MemoryTypeSemantic, now-2000)
	seedMemory(gw, "sm_b", "user-1", "agent-1", "prefers hostels when travelling", domain.MemoryTypeSemantic, now-1000)
	gw.memory("sm_a").Importance = 0.6
	gw.memory("sm_a").AccessCount = 1
	gw.memory("sm_b").Importance = 0.6
	gw.memory("sm_b").AccessCount = 2

	overrides := config.DefaultIntelligence().Consolidation
	overrides.PreserveOriginals = false

	// Every text embeds to the same vector, so the pair clusters.
	client := &embedding.MockClient{FixedVector: []float32{1, 0, 0}}
	c := newTestConsolidator(t, gw, client, nil, testIntelligence())

	results, err := c.ConsolidateMemories(context.Background(), "user-1", "agent-1", &overrides)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	merge := results[1]
	if merge.Strategy != domain.StrategyMergeSimilar {
		t.Fatalf("unexpected strategy order: %s", merge.Strategy)
	}
	if merge.Processed != 2 || merge.Merged != 1 || merge.Created != 1 || merge.Deleted != 2 {
		t.Fatalf("merge result %+v, want processed=2 merged=1 created=1 deleted=2", merge)
	}

	semantics := semanticList(t, gw)
	if len(semantics) != 1 {
		t.Fatalf("expected a single merged memory, got %d", len(semantics))
	}
	m := semantics[0]
	if m.Content != "prefers hostels when travelling" {
		t.Fatalf("merged content %q", m.Content)
	}
	if m.Importance != 0.6 {
		t.Fatalf("merged importance %f, want the member maximum 0.6", m.Importance)
	}
	if m.AccessCount != 3 {
		t.Fatalf("merged access count %d, want 3", m.AccessCount)
	}

	from, ok := m.Metadata["mergedFrom"].([]string)
	if !ok || len(from) != 2 {
		t.Fatalf("mergedFrom = %v", m.Metadata["mergedFrom"])
	}
	// 0.7 * avg importance + 0.3 * size factor: 0.42 + 0.12.
	conf, _ := m.Metadata["confidence"].(float64)
	if conf < 0.539 || conf > 0.541 {
		t.Fatalf("merge confidence %f, want 0.54", conf)
	}
}

func TestConsolidate_KeepsDistantSemanticsApart(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()
	seedMemory(gw, "sm_a", "user-1", "agent-1", "enjoys climbing", domain.MemoryTypeSemantic, now-2000)
	seedMemory(gw, "sm_b", "user-1", "agent-1", "allergic to peanuts", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		"enjoys climbing":     {1, 0, 0},
		"allergic to peanuts": {0, 1, 0},
	}}
	c := newTestConsolidator(t, gw, client, nil, testIntelligence())

	results, err := c.ConsolidateMemories(context.Background(), "user-1", "agent-1", nil)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if results[1].Merged != 0 {
		t.Fatalf("orthogonal memories must not merge, got %d merges", results[1].Merged)
	}
	if len(semanticList(t, gw)) != 2 {
		t.Fatal("memory count changed without a merge")
	}
}

func TestConsolidate_LLMGeneralisesConversion(t *testing.T) {
	gw := newMockGateway()
	oldEpisodic(gw, "ep_old", 0.8, 10)

	spy := llm.NewMockClient()
	spy.Response = &domain.GeneratedObject{
		Object: map[string]any{"text": "Generalised knowledge from the episode"},
	}

	overrides := config.DefaultIntelligence().Consolidation
	overrides.EnableLLMSummaries = true

	c := newTestConsolidator(t, gw, embedding.NewMockClient(), spy, testIntelligence())
	if _, err := c.ConsolidateMemories(context.Background(), "user-1", "agent-1", &overrides); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	semantics := semanticList(t, gw)
	if len(semantics) != 1 {
		t.Fatalf("expected 1 converted memory, got %d", len(semantics))
	}
	if semantics[0].Content != "Generalised knowledge from the episode" {
		t.Fatalf("converted content %q", semantics[0].Content)
	}
	if semantics[0].Metadata["extractionMethod"] != "llm" {
		t.Fatalf("extractionMethod = %v", semantics[0].Metadata["extractionMethod"])
	}
}

func TestMergedKeywords_CapsUnion(t *testing.T) {
	var members []domain.Memory
	for i := 0; i < 3; i++ {
		var kws []string
		for j := 0; j < 10; j++ {
			kws = append(kws, fmt.Sprintf("kw-%d-%d", i, j))
		}
		members = append(members, domain.Memory{Keywords: kws})
	}
	out := mergedKeywords(members)
	if len(out) != 20 {
		t.Fatalf("expected keyword union capped at 20, got %d", len(out))
	}
	if out[0] != "kw-0-0" {
		t.Fatalf("union must preserve member order, got %s first", out[0])
	}
}
