package service

import (
	"context"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// EpisodicMemory stores experiences tied to a session. Entries decay and
// are eligible for episodic-to-semantic consolidation once they age out.
type EpisodicMemory struct {
	base *memoryBase
}

// EpisodicOptions are the caller-tunable fields of an episodic write.
type EpisodicOptions struct {
	SessionID  string         `json:"session_id"`
	Tags       []string       `json:"tags,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e *EpisodicMemory) Store(ctx context.Context, userID, agentID, content string, opts EpisodicOptions) (string, error) {
	compressionAge := e.base.cfg.Memory.EpisodicCompressionAge
	if compressionAge <= 0 {
		compressionAge = 30
	}

	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}

	return e.base.store(ctx, storeInput{
		userID:     userID,
		agentID:    agentID,
		content:    content,
		memType:    domain.MemoryTypeEpisodic,
		sessionID:  opts.SessionID,
		importance: opts.Importance,
		keywords:   opts.Keywords,
		userMeta:   opts.Metadata,
		sysMeta: map[string]any{
			"tags":      tags,
			"expiresAt": time.Now().AddDate(0, 0, compressionAge).UnixMilli(),
		},
	})
}

func (e *EpisodicMemory) Search(ctx context.Context, userID, agentID, query string, limit int) ([]domain.MemoryWithScore, error) {
	return e.base.search(ctx, userID, agentID, query, domain.MemoryTypeEpisodic, limit)
}
