package service

import (
	"math"
	"sync"
	"time"
)

// Extraction records one unit of paid LLM work.
type Extraction struct {
	ExtractorType     string         `json:"extractor_type"`
	Cost              float64        `json:"cost"`
	MemoriesExtracted int            `json:"memories_extracted"`
	MessagesProcessed int            `json:"messages_processed"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	At                int64          `json:"at"`
}

// CostTracker accumulates per-agent spend bucketed by calendar month.
// It is safe for concurrent use; all updates for a single agent are
// serialised under one mutex so no call double-charges.
type CostTracker struct {
	mu     sync.Mutex
	spend  map[string]map[string]float64 // agentID -> "2026-08" -> spend
	counts map[string]int64              // agentID -> extraction count
	now    func() time.Time
}

func NewCostTracker() *CostTracker {
	return &CostTracker{
		spend:  make(map[string]map[string]float64),
		counts: make(map[string]int64),
		now:    time.Now,
	}
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CheckBudget reports whether the agent's spend for the current month is
// still below monthlyBudget. +Inf (or a negative budget) disables the check.
func (t *CostTracker) CheckBudget(agentID string, monthlyBudget float64) bool {
	if math.IsInf(monthlyBudget, 1) || monthlyBudget < 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spend[agentID][monthKey(t.now())] < monthlyBudget
}

// TrackExtraction accumulates one extraction's cost against the agent.
func (t *CostTracker) TrackExtraction(agentID string, e Extraction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	months, ok := t.spend[agentID]
	if !ok {
		months = make(map[string]float64)
		t.spend[agentID] = months
	}
	months[monthKey(t.now())] += e.Cost
	t.counts[agentID]++
}

// MonthlySpend returns the agent's spend for the current month.
func (t *CostTracker) MonthlySpend(agentID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spend[agentID][monthKey(t.now())]
}

// ExtractionCount returns how many extractions were tracked for the agent.
func (t *CostTracker) ExtractionCount(agentID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[agentID]
}
