package service

import (
	"context"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// SemanticMemory stores durable knowledge. It does not decay; recall
// boosts its relevance by stored confidence.
type SemanticMemory struct {
	base *memoryBase
}

// SemanticOptions are the caller-tunable fields of a semantic write.
type SemanticOptions struct {
	Confidence float64        `json:"confidence,omitempty"`
	Source     string         `json:"source,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *SemanticMemory) Store(ctx context.Context, userID, agentID, content string, opts SemanticOptions) (string, error) {
	confidence := opts.Confidence
	if confidence <= 0 {
		confidence = 0.8
	}

	keywords := opts.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	return s.base.store(ctx, storeInput{
		userID:     userID,
		agentID:    agentID,
		content:    content,
		memType:    domain.MemoryTypeSemantic,
		sessionID:  opts.SessionID,
		importance: opts.Importance,
		keywords:   opts.Keywords,
		userMeta:   opts.Metadata,
		sysMeta: map[string]any{
			"confidence": confidence,
			"source":     opts.Source,
			"keywords":   keywords,
		},
	})
}

func (s *SemanticMemory) Search(ctx context.Context, userID, agentID, query string, limit int) ([]domain.MemoryWithScore, error) {
	return s.base.search(ctx, userID, agentID, query, domain.MemoryTypeSemantic, limit)
}
