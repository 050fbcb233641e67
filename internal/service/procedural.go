package service

import (
	"context"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// ProceduralMemory stores trigger/action pairs the agent has learned.
// Entries do not decay; search returns pre-ranked matches.
type ProceduralMemory struct {
	base *memoryBase
}

// ProceduralOptions are the caller-tunable fields of a procedural write.
type ProceduralOptions struct {
	Trigger    string         `json:"trigger"`
	Action     string         `json:"action"`
	Outcome    string         `json:"outcome,omitempty"`
	Success    bool           `json:"success"`
	SessionID  string         `json:"session_id,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (p *ProceduralMemory) Store(ctx context.Context, userID, agentID, content string, opts ProceduralOptions) (string, error) {
	return p.base.store(ctx, storeInput{
		userID:     userID,
		agentID:    agentID,
		content:    content,
		memType:    domain.MemoryTypeProcedural,
		sessionID:  opts.SessionID,
		importance: opts.Importance,
		keywords:   opts.Keywords,
		userMeta:   opts.Metadata,
		sysMeta: map[string]any{
			"trigger": opts.Trigger,
			"action":  opts.Action,
			"outcome": opts.Outcome,
			"success": opts.Success,
		},
	})
}

func (p *ProceduralMemory) Search(ctx context.Context, userID, agentID, query string, limit int) ([]domain.MemoryWithScore, error) {
	return p.base.search(ctx, userID, agentID, query, domain.MemoryTypeProcedural, limit)
}
