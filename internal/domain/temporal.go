package domain

// TemporalPatternType classifies a mined pattern.
type TemporalPatternType string

const (
	PatternHourly TemporalPatternType = "hourly"
	PatternWeekly TemporalPatternType = "weekly"
	PatternBurst  TemporalPatternType = "burst"
)

// TemporalPattern is a statistically or LLM-derived regularity over memory
// timestamps.
type TemporalPattern struct {
	Type         TemporalPatternType `json:"type"`
	Description  string              `json:"description"`
	Frequency    string              `json:"frequency"` // e.g. "hour-14", "day-1", "burst"
	Confidence   float64             `json:"confidence"`
	MemoryIDs    []string            `json:"memory_ids,omitempty"`
	LLMGenerated bool                `json:"llm_generated,omitempty"`
}

// ActivityCluster is a dense window of memory creation.
type ActivityCluster struct {
	Start     int64    `json:"start"`
	End       int64    `json:"end"`
	MemoryIDs []string `json:"memory_ids"`
	Intensity float64  `json:"intensity"`
	Topics    []string `json:"topics,omitempty"`
}
