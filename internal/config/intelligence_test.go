package config

import (
	"strings"
	"testing"

	"github.com/mnemoslab/mnemos/internal/domain"
)

func TestDefaultIntelligence_IsValid(t *testing.T) {
	cfg := DefaultIntelligence()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if !cfg.CostControl.BudgetDisabled() {
		t.Fatal("default budget should be unlimited")
	}
}

func TestValidate_UnknownMethod(t *testing.T) {
	cfg := DefaultIntelligence()
	cfg.ConnectionDetection.Method = "psychic"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "method") {
		t.Fatalf("expected method error, got %v", err)
	}
}

func TestValidate_TemperatureRange(t *testing.T) {
	for _, temp := range []float64{0.05, 0.31} {
		cfg := DefaultIntelligence()
		cfg.ConnectionDetection.LLMEnhancement.Temperature = temp
		if cfg.Validate() == nil {
			t.Fatalf("temperature %f should be rejected", temp)
		}
	}
}

func TestValidate_MaxRecentMemoriesRange(t *testing.T) {
	for _, n := range []int{9, 501} {
		cfg := DefaultIntelligence()
		cfg.ConnectionDetection.MaxRecentMemories = n
		if cfg.Validate() == nil {
			t.Fatalf("max_recent_memories %d should be rejected", n)
		}
	}
	cfg := DefaultIntelligence()
	cfg.ConnectionDetection.MaxRecentMemories = 500
	if err := cfg.Validate(); err != nil {
		t.Fatalf("boundary value should pass: %v", err)
	}
}

func TestValidate_RuleRequiresDescription(t *testing.T) {
	cfg := DefaultIntelligence()
	cfg.ConnectionDetection.UserRules.Enabled = true
	cfg.ConnectionDetection.UserRules.Patterns = []domain.ConnectionRule{
		{Name: "incomplete", ConnectionType: domain.ConnectionRelated, Confidence: 0.8, Enabled: true},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "semantic_description") {
		t.Fatalf("expected semantic_description error, got %v", err)
	}
}

func TestValidate_RuleConfidenceRange(t *testing.T) {
	cfg := DefaultIntelligence()
	cfg.ConnectionDetection.UserRules.Patterns = []domain.ConnectionRule{
		{Name: "overconfident", SemanticDescription: "anything", Confidence: 1.2},
	}
	if cfg.Validate() == nil {
		t.Fatal("confidence above 1 should be rejected")
	}
}

func TestValidate_ThresholdRanges(t *testing.T) {
	cfg := DefaultIntelligence()
	cfg.Embedding.SimilarityThreshold = 1.5
	if cfg.Validate() == nil {
		t.Fatal("similarity threshold above 1 should be rejected")
	}

	cfg = DefaultIntelligence()
	cfg.Recall.MinRelevanceThreshold = -0.1
	if cfg.Validate() == nil {
		t.Fatal("negative relevance threshold should be rejected")
	}
}

func TestBudgetDisabled(t *testing.T) {
	cc := CostControlConfig{MonthlyBudget: 25}
	if cc.BudgetDisabled() {
		t.Fatal("finite budget is not disabled")
	}
	cc.MonthlyBudget = -1
	if !cc.BudgetDisabled() {
		t.Fatal("negative budget disables the gate")
	}
}
