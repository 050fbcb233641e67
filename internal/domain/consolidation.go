package domain

// ConsolidationStrategy names one pass of a consolidation run.
type ConsolidationStrategy string

const (
	StrategyConvertEpisodic ConsolidationStrategy = "convert_episodic"
	StrategyMergeSimilar    ConsolidationStrategy = "merge_similar"
)

// ConsolidationResult reports the outcome of one strategy pass.
type ConsolidationResult struct {
	Strategy  ConsolidationStrategy `json:"strategy"`
	Processed int                   `json:"processed"`
	Created   int                   `json:"created"`
	Merged    int                   `json:"merged"`
	Deleted   int                   `json:"deleted"`
	Errors    int                   `json:"errors"`
}
