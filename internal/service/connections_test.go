package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"github.com/mnemoslab/mnemos/internal/llm"
)

// vectorClient returns a fixed vector per exact input text, so tests can
// dial in precise cosine similarities.
type vectorClient struct {
	vecs map[string][]float32
}

func (c *vectorClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok := c.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector configured for %q", text)
	}
	return vec, nil
}

func (c *vectorClient) Dimension() int { return 3 }

// vecAtCosine builds a unit vector whose cosine against [1,0,0] is sim.
func vecAtCosine(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0}
}

func newTestEmbedder(t *testing.T, client domain.Embedder) *embedding.Service {
	t.Helper()
	svc, err := embedding.NewService(client, 100, 10, testLogger())
	if err != nil {
		t.Fatalf("embedding service: %v", err)
	}
	return svc
}

func seedMemory(gw *mockGateway, id, userID, agentID, content string, t domain.MemoryType, createdAt int64) *domain.Memory {
	m := &domain.Memory{
		ID:        id,
		UserID:    userID,
		AgentID:   agentID,
		Type:      t,
		Content:   content,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	_ = gw.Store(context.Background(), m)
	return m
}

func TestDiscoverConnections_FastPath(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_1", "user-1", "agent-1", "I prefer dark mode UIs for productivity", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "Dark-mode interfaces help me focus", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		newMem.Content:                      {1, 0, 0},
		"Dark-mode interfaces help me focus": vecAtCosine(0.95),
	}}
	manager := NewConnectionManager(gw, newTestEmbedder(t, client), nil, NewCostTracker(), testIntelligence(), testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Type != domain.ConnectionSimilar {
		t.Fatalf("expected similar, got %s", e.Type)
	}
	if e.Strength < 0.94 {
		t.Fatalf("expected strength near 0.95, got %f", e.Strength)
	}
	if e.Metadata.Method != domain.MethodEmbedding {
		t.Fatalf("expected embedding method, got %s", e.Metadata.Method)
	}
	if e.SourceMemoryID != newMem.ID || e.TargetMemoryID != "sm_2" {
		t.Fatalf("unexpected edge endpoints %s -> %s", e.SourceMemoryID, e.TargetMemoryID)
	}
}

func TestDiscoverConnections_LadderDowngradeOnLLMFailure(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "ep_1", "user-1", "agent-1", "started the deployment", domain.MemoryTypeEpisodic, now)
	// Candidate created 30 minutes after the new memory.
	seedMemory(gw, "ep_2", "user-1", "agent-1", "deployment finished", domain.MemoryTypeEpisodic, now+30*time.Minute.Milliseconds())

	client := &vectorClient{vecs: map[string][]float32{
		"started the deployment": {1, 0, 0},
		"deployment finished":    vecAtCosine(0.78),
	}}

	cfg := testIntelligence()
	cfg.ConnectionDetection.Method = config.MethodHybrid
	cfg.ConnectionDetection.LLMEnhancement.Enabled = true

	spy := llm.NewMockClient()
	spy.Err = errors.New("provider down")

	manager := NewConnectionManager(gw, newTestEmbedder(t, client), spy, NewCostTracker(), cfg, testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Type != domain.ConnectionRelated {
		t.Fatalf("expected related, got %s", e.Type)
	}
	if e.Reason != "Sequential content" {
		t.Fatalf("expected sequential-content reason, got %q", e.Reason)
	}
	if e.Metadata.LLMUsed {
		t.Fatal("expected llm_used=false after downgrade")
	}
	if spy.CallCount() == 0 {
		t.Fatal("expected the LLM to have been attempted before the downgrade")
	}
}

func TestDiscoverConnections_BudgetSkipsLLM(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_1", "user-1", "agent-1", "likes espresso", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "drinks coffee daily", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		"likes espresso":      {1, 0, 0},
		"drinks coffee daily": vecAtCosine(0.8),
	}}

	cfg := testIntelligence()
	cfg.ConnectionDetection.Method = config.MethodHybrid
	cfg.ConnectionDetection.LLMEnhancement.Enabled = true
	cfg.CostControl.MonthlyBudget = 0

	spy := llm.NewMockClient()
	costs := NewCostTracker()
	manager := NewConnectionManager(gw, newTestEmbedder(t, client), spy, costs, cfg, testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if spy.CallCount() != 0 {
		t.Fatalf("expected no LLM calls with zero budget, got %d", spy.CallCount())
	}
	if costs.ExtractionCount("agent-1") != 0 {
		t.Fatal("expected no extractions tracked")
	}
	if len(edges) != 1 || edges[0].Metadata.Method != domain.MethodHeuristic {
		t.Fatalf("expected a heuristic edge, got %+v", edges)
	}
}

func TestDiscoverConnections_EdgeWellFormedness(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_new", "user-1", "agent-1", "anchor memory", domain.MemoryTypeSemantic, now)
	vecs := map[string][]float32{"anchor memory": {1, 0, 0}}
	sims := []float64{0.95, 0.8, 0.72}
	for i, sim := range sims {
		content := fmt.Sprintf("candidate %d", i)
		seedMemory(gw, fmt.Sprintf("sm_c%d", i), "user-1", "agent-1", content, domain.MemoryTypeSemantic, now-int64(i+1)*1000)
		vecs[content] = vecAtCosine(sim)
	}
	// Below the 0.7 threshold, should never appear.
	seedMemory(gw, "sm_low", "user-1", "agent-1", "unrelated", domain.MemoryTypeSemantic, now-9000)
	vecs["unrelated"] = vecAtCosine(0.2)

	manager := NewConnectionManager(gw, newTestEmbedder(t, &vectorClient{vecs: vecs}), nil, NewCostTracker(), testIntelligence(), testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(edges) != len(sims) {
		t.Fatalf("expected %d edges, got %d", len(sims), len(edges))
	}
	for i, e := range edges {
		if e.SourceMemoryID != newMem.ID {
			t.Fatalf("edge %d source is %s, want %s", i, e.SourceMemoryID, newMem.ID)
		}
		if e.SourceMemoryID == e.TargetMemoryID {
			t.Fatal("self-loop emitted")
		}
		if e.Strength < 0 || e.Strength > 1 {
			t.Fatalf("strength %f out of range", e.Strength)
		}
		if e.Strength < e.Metadata.EmbeddingSimilarity {
			t.Fatalf("strength %f below similarity %f", e.Strength, e.Metadata.EmbeddingSimilarity)
		}
		if i > 0 && edges[i-1].Strength < e.Strength {
			t.Fatal("edges not sorted by descending strength")
		}
	}
}

func TestDiscoverConnections_CapsBatch(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_new", "user-1", "agent-1", "anchor", domain.MemoryTypeSemantic, now)
	vecs := map[string][]float32{"anchor": {1, 0, 0}}
	for i := 0; i < 15; i++ {
		content := fmt.Sprintf("close candidate %d", i)
		seedMemory(gw, fmt.Sprintf("sm_%02d", i), "user-1", "agent-1", content, domain.MemoryTypeSemantic, now-int64(i+1)*1000)
		vecs[content] = vecAtCosine(0.95)
	}

	cfg := testIntelligence()
	cfg.CostControl.MaxLLMCallsPerBatch = 5
	manager := NewConnectionManager(gw, newTestEmbedder(t, &vectorClient{vecs: vecs}), nil, NewCostTracker(), cfg, testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("expected edges capped at 5, got %d", len(edges))
	}
}

func TestDiscoverConnections_MisconfiguredRule(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_1", "user-1", "agent-1", "first fact", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "second fact", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		"first fact":  {1, 0, 0},
		"second fact": vecAtCosine(0.8),
	}}

	cfg := testIntelligence()
	cfg.ConnectionDetection.Method = config.MethodUserRules
	cfg.ConnectionDetection.UserRules.Enabled = true
	cfg.ConnectionDetection.UserRules.Patterns = []domain.ConnectionRule{
		{Name: "broken", ConnectionType: domain.ConnectionRelated, Confidence: 0.9, Enabled: true},
	}
	cfg.CostControl.PreferEmbeddingWhenSimilar = false

	manager := NewConnectionManager(gw, newTestEmbedder(t, client), nil, NewCostTracker(), cfg, testLogger())

	_, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if !errors.Is(err, ErrRuleMisconfigured) {
		t.Fatalf("expected ErrRuleMisconfigured, got %v", err)
	}
}

func TestDiscoverConnections_RuleMatch(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	newMem := seedMemory(gw, "sm_1", "user-1", "agent-1", "auth token rotation", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "session key renewal", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		"auth token rotation":  {1, 0, 0},
		"session key renewal":  vecAtCosine(0.8),
		"security credentials": vecAtCosine(0.9),
	}}

	cfg := testIntelligence()
	cfg.ConnectionDetection.Method = config.MethodUserRules
	cfg.ConnectionDetection.UserRules.Enabled = true
	cfg.ConnectionDetection.UserRules.Patterns = []domain.ConnectionRule{
		{
			Name:                "security",
			SemanticDescription: "security credentials",
			ConnectionType:      domain.ConnectionPartOf,
			Confidence:          0.85,
			SemanticThreshold:   0.6,
			Enabled:             true,
		},
	}
	cfg.CostControl.PreferEmbeddingWhenSimilar = false

	manager := NewConnectionManager(gw, newTestEmbedder(t, client), nil, NewCostTracker(), cfg, testLogger())

	edges, err := manager.DiscoverConnections(context.Background(), "user-1", "agent-1", newMem)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].Type != domain.ConnectionPartOf {
		t.Fatalf("expected part_of from rule, got %s", edges[0].Type)
	}
	if edges[0].Metadata.Method != domain.MethodUserRule {
		t.Fatalf("expected user-rule method, got %s", edges[0].Metadata.Method)
	}
}

func TestCreateConnections_CleansEdges(t *testing.T) {
	gw := newMockGateway()
	manager := NewConnectionManager(gw, newTestEmbedder(t, embedding.NewMockClient()), nil, NewCostTracker(), testIntelligence(), testLogger())

	edges := []domain.MemoryConnection{
		{SourceMemoryID: "sm_a", TargetMemoryID: "sm_a", Strength: 0.9},        // self-loop
		{UserID: "other-user", SourceMemoryID: "sm_a", TargetMemoryID: "sm_b"}, // foreign user
		{SourceMemoryID: "sm_a", TargetMemoryID: "sm_b", Strength: 1.5},        // clamped
	}
	if err := manager.CreateConnections(context.Background(), "user-1", edges); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	persisted := gw.connections()
	if len(persisted) != 1 {
		t.Fatalf("expected 1 persisted edge, got %d", len(persisted))
	}
	e := persisted[0]
	if e.UserID != "user-1" {
		t.Fatalf("expected userID assigned, got %s", e.UserID)
	}
	if e.Strength != 1 {
		t.Fatalf("expected strength clamped to 1, got %f", e.Strength)
	}
	if e.ID == "" {
		t.Fatal("expected edge id assigned")
	}
}

func TestSetRules_RejectsMissingDescription(t *testing.T) {
	manager := NewConnectionManager(newMockGateway(), newTestEmbedder(t, embedding.NewMockClient()), nil, NewCostTracker(), testIntelligence(), testLogger())

	err := manager.SetRules([]domain.ConnectionRule{{Name: "bad", Enabled: true}})
	if !errors.Is(err, ErrRuleMisconfigured) {
		t.Fatalf("expected ErrRuleMisconfigured, got %v", err)
	}
}
