package config

import (
	"fmt"
	"math"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// Detection methods for connection discovery.
const (
	MethodEmbeddingOnly = "embedding-only"
	MethodUserRules     = "user-rules"
	MethodSmallLLM      = "small-llm"
	MethodHybrid        = "hybrid"
)

// EmbeddingConfig configures the embedding capability.
type EmbeddingConfig struct {
	Enabled             bool    `json:"enabled"`
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	APIKey              string  `json:"api_key,omitempty"`
	CacheSize           int     `json:"cache_size"`
	BatchSize           int     `json:"batch_size"`
}

// UserRulesConfig holds the user-supplied connection rules for ladder L1.
type UserRulesConfig struct {
	Enabled  bool                    `json:"enabled"`
	Patterns []domain.ConnectionRule `json:"patterns"`
}

// LLMEnhancementConfig configures ladder L2.
type LLMEnhancementConfig struct {
	Enabled             bool    `json:"enabled"`
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	Temperature         float64 `json:"temperature"`
	MinConfidence       float64 `json:"min_confidence"`
	CostPerToken        float64 `json:"cost_per_token,omitempty"`
	CostPerOperation    float64 `json:"cost_per_operation,omitempty"`
	FallbackToEmbedding bool    `json:"fallback_to_embedding"`
}

// ConnectionDetectionConfig configures the discovery engine.
type ConnectionDetectionConfig struct {
	Method            string               `json:"method"`
	MaxRecentMemories int                  `json:"max_recent_memories"`
	UserRules         UserRulesConfig      `json:"user_rules"`
	LLMEnhancement    LLMEnhancementConfig `json:"llm_enhancement"`
}

// CostControlConfig gates paid LLM work.
type CostControlConfig struct {
	MaxLLMCallsPerBatch        int     `json:"max_llm_calls_per_batch"`
	MonthlyBudget              float64 `json:"monthly_budget"` // +Inf disables the check
	PreferEmbeddingWhenSimilar bool    `json:"prefer_embedding_when_similar"`
	TrackTokenUsage            bool    `json:"track_token_usage"`
}

// RecallConfig configures the hybrid recall service.
type RecallConfig struct {
	DefaultLimit          int                  `json:"default_limit"`
	MinRelevanceThreshold float64              `json:"min_relevance_threshold"`
	EnableCaching         bool                 `json:"enable_caching"`
	CacheTTL              time.Duration        `json:"cache_ttl"`
	EnableRelated         bool                 `json:"enable_related"`
	MaxRelatedDepth       int                  `json:"max_related_depth"`
	Weights               domain.HybridWeights `json:"weights"`
}

// MemoryConfig holds per-type write defaults.
type MemoryConfig struct {
	WorkingTTL            time.Duration `json:"working_ttl"`
	EpisodicCompressionAge int          `json:"episodic_compression_age_days"`
}

// ConsolidationConfig tunes the consolidation engine.
type ConsolidationConfig struct {
	MaxAge              time.Duration `json:"max_age"`
	BatchSize           int           `json:"batch_size"`
	SimilarityThreshold float64       `json:"similarity_threshold"`
	PreserveOriginals   bool          `json:"preserve_originals"`
	EnableLLMSummaries  bool          `json:"enable_llm_summaries"`
	Interval            time.Duration `json:"interval"`
}

// Intelligence is the full configuration tree for the memory intelligence
// layer. Build with DefaultIntelligence and override fields; Validate
// rejects out-of-range values at the boundary.
type Intelligence struct {
	Embedding           EmbeddingConfig           `json:"embedding"`
	ConnectionDetection ConnectionDetectionConfig `json:"connection_detection"`
	CostControl         CostControlConfig         `json:"cost_control"`
	Recall              RecallConfig              `json:"recall"`
	Memory              MemoryConfig              `json:"memory"`
	Consolidation       ConsolidationConfig       `json:"consolidation"`
}

// DefaultIntelligence returns the documented defaults.
func DefaultIntelligence() Intelligence {
	return Intelligence{
		Embedding: EmbeddingConfig{
			Enabled:             true,
			Provider:            "openai",
			Model:               "text-embedding-3-small",
			SimilarityThreshold: 0.7,
			CacheSize:           1000,
			BatchSize:           32,
		},
		ConnectionDetection: ConnectionDetectionConfig{
			Method:            MethodHybrid,
			MaxRecentMemories: 50,
			UserRules:         UserRulesConfig{Enabled: false},
			LLMEnhancement: LLMEnhancementConfig{
				Enabled:             false,
				Provider:            "openai",
				Model:               "gpt-4o-mini",
				Temperature:         0.2,
				MinConfidence:       0.5,
				FallbackToEmbedding: true,
			},
		},
		CostControl: CostControlConfig{
			MaxLLMCallsPerBatch:        10,
			MonthlyBudget:              math.Inf(1),
			PreferEmbeddingWhenSimilar: true,
			TrackTokenUsage:            true,
		},
		Recall: RecallConfig{
			DefaultLimit:          20,
			MinRelevanceThreshold: 0.1,
			EnableCaching:         true,
			CacheTTL:              5 * time.Minute,
			EnableRelated:         true,
			MaxRelatedDepth:       2,
			Weights:               domain.DefaultHybridWeights(),
		},
		Memory: MemoryConfig{
			WorkingTTL:             30 * time.Minute,
			EpisodicCompressionAge: 30,
		},
		Consolidation: ConsolidationConfig{
			MaxAge:              7 * 24 * time.Hour,
			BatchSize:           50,
			SimilarityThreshold: 0.85,
			PreserveOriginals:   true,
			EnableLLMSummaries:  false,
			Interval:            6 * time.Hour,
		},
	}
}

// Validate rejects configuration outside the documented ranges.
func (c *Intelligence) Validate() error {
	switch c.ConnectionDetection.Method {
	case MethodEmbeddingOnly, MethodUserRules, MethodSmallLLM, MethodHybrid:
	default:
		return fmt.Errorf("connection_detection.method: unknown method %q", c.ConnectionDetection.Method)
	}
	if n := c.ConnectionDetection.MaxRecentMemories; n < 10 || n > 500 {
		return fmt.Errorf("connection_detection.max_recent_memories: %d out of range [10,500]", n)
	}
	if t := c.ConnectionDetection.LLMEnhancement.Temperature; t < 0.1 || t > 0.3 {
		return fmt.Errorf("connection_detection.llm_enhancement.temperature: %.2f out of range [0.1,0.3]", t)
	}
	if s := c.Embedding.SimilarityThreshold; s < 0 || s > 1 {
		return fmt.Errorf("embedding.similarity_threshold: %.2f out of range [0,1]", s)
	}
	if s := c.Consolidation.SimilarityThreshold; s < 0 || s > 1 {
		return fmt.Errorf("consolidation.similarity_threshold: %.2f out of range [0,1]", s)
	}
	if r := c.Recall.MinRelevanceThreshold; r < 0 || r > 1 {
		return fmt.Errorf("recall.min_relevance_threshold: %.2f out of range [0,1]", r)
	}
	for i, rule := range c.ConnectionDetection.UserRules.Patterns {
		if rule.SemanticDescription == "" {
			return fmt.Errorf("connection_detection.user_rules.patterns[%d]: semantic_description is required", i)
		}
		if !ValidRuleConfidence(rule.Confidence) {
			return fmt.Errorf("connection_detection.user_rules.patterns[%d]: confidence %.2f out of range [0,1]", i, rule.Confidence)
		}
	}
	return nil
}

// ValidRuleConfidence reports whether a rule confidence is in [0,1].
func ValidRuleConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// BudgetDisabled reports whether the monthly budget check is disabled.
func (c *CostControlConfig) BudgetDisabled() bool {
	return math.IsInf(c.MonthlyBudget, 1) || c.MonthlyBudget < 0
}
