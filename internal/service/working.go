package service

import (
	"context"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
)

// WorkingMemory is the short-lived scratchpad store. Entries carry an
// expiry and decay fast; sessionID is mandatory.
type WorkingMemory struct {
	base *memoryBase
}

// WorkingOptions are the caller-tunable fields of a working memory write.
type WorkingOptions struct {
	SessionID     string         `json:"session_id"`
	ContextWindow int            `json:"context_window,omitempty"`
	TTLSeconds    int            `json:"ttl_seconds,omitempty"`
	Importance    float64        `json:"importance,omitempty"`
	Keywords      []string       `json:"keywords,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (w *WorkingMemory) Store(ctx context.Context, userID, agentID, content string, opts WorkingOptions) (string, error) {
	ttl := time.Duration(opts.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = w.base.cfg.Memory.WorkingTTL
	}

	return w.base.store(ctx, storeInput{
		userID:     userID,
		agentID:    agentID,
		content:    content,
		memType:    domain.MemoryTypeWorking,
		sessionID:  opts.SessionID,
		importance: opts.Importance,
		keywords:   opts.Keywords,
		userMeta:   opts.Metadata,
		sysMeta: map[string]any{
			"contextWindow": opts.ContextWindow,
			"expiresAt":     time.Now().Add(ttl).UnixMilli(),
		},
	})
}

func (w *WorkingMemory) Search(ctx context.Context, userID, agentID, query string, limit int) ([]domain.MemoryWithScore, error) {
	return w.base.search(ctx, userID, agentID, query, domain.MemoryTypeWorking, limit)
}
