package service

import (
	"context"
	"time"

	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"go.uber.org/zap"
)

// memoryBase carries the shared write path of the four typed façades:
// validate, assign id and type defaults, persist, then schedule background
// connection discovery. The store call never waits on embedding or LLM
// providers; those run in the discovery queue after the id is returned.
type memoryBase struct {
	gateway domain.StorageGateway
	queue   *DiscoveryQueue
	cfg     config.Intelligence
	logger  *zap.Logger
}

// storeInput is the normalised write assembled by a typed façade.
type storeInput struct {
	userID     string
	agentID    string
	content    string
	memType    domain.MemoryType
	sessionID  string
	importance float64 // 0 means type default
	keywords   []string
	userMeta   map[string]any
	sysMeta    map[string]any // system-owned keys, win over userMeta
}

func (b *memoryBase) store(ctx context.Context, in storeInput) (string, error) {
	if in.userID == "" {
		return "", ErrInvalidUser
	}
	if in.agentID == "" {
		return "", ErrInvalidAgent
	}
	if in.content == "" {
		return "", ErrEmptyContent
	}
	sessionRequired := in.memType == domain.MemoryTypeWorking || in.memType == domain.MemoryTypeEpisodic
	if sessionRequired && in.sessionID == "" {
		return "", ErrSessionRequired
	}

	importance := in.importance
	if importance <= 0 {
		importance = in.memType.InitialImportance()
	}
	if importance > 1 {
		importance = 1
	}

	// User metadata first, then system keys so they always win.
	metadata := make(map[string]any, len(in.userMeta)+len(in.sysMeta))
	for k, v := range in.userMeta {
		metadata[k] = v
	}
	for k, v := range in.sysMeta {
		metadata[k] = v
	}

	now := time.Now().UnixMilli()
	m := &domain.Memory{
		ID:             domain.NewMemoryID(in.memType),
		UserID:         in.userID,
		AgentID:        in.agentID,
		Type:           in.memType,
		Content:        in.content,
		Importance:     importance,
		Resonance:      1.0,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		SessionID:      in.sessionID,
		TokenCount:     domain.EstimateTokens(in.content),
		Keywords:       in.keywords,
		Metadata:       metadata,
	}

	if err := b.gateway.Store(ctx, m); err != nil {
		return "", err
	}

	// Discovery is fire-and-forget; the id is already durable.
	if b.queue != nil {
		b.queue.Enqueue(in.userID, in.agentID, m.ID)
	}

	return m.ID, nil
}

// search is the shared per-type recall path.
func (b *memoryBase) search(ctx context.Context, userID, agentID, query string, t domain.MemoryType, limit int) ([]domain.MemoryWithScore, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = b.cfg.Recall.DefaultLimit
	}
	return b.gateway.Recall(ctx, userID, agentID, query, domain.RecallOpts{Type: &t, Limit: limit})
}

// MemoryTypes bundles the four typed façades over one shared base.
type MemoryTypes struct {
	Working    *WorkingMemory
	Episodic   *EpisodicMemory
	Semantic   *SemanticMemory
	Procedural *ProceduralMemory
}

func NewMemoryTypes(gateway domain.StorageGateway, queue *DiscoveryQueue, cfg config.Intelligence, logger *zap.Logger) *MemoryTypes {
	base := &memoryBase{gateway: gateway, queue: queue, cfg: cfg, logger: logger}
	return &MemoryTypes{
		Working:    &WorkingMemory{base: base},
		Episodic:   &EpisodicMemory{base: base},
		Semantic:   &SemanticMemory{base: base},
		Procedural: &ProceduralMemory{base: base},
	}
}

// ByType returns the façade search for a given memory type.
func (t *MemoryTypes) Search(ctx context.Context, userID, agentID, query string, mt domain.MemoryType, limit int) ([]domain.MemoryWithScore, error) {
	switch mt {
	case domain.MemoryTypeWorking:
		return t.Working.Search(ctx, userID, agentID, query, limit)
	case domain.MemoryTypeEpisodic:
		return t.Episodic.Search(ctx, userID, agentID, query, limit)
	case domain.MemoryTypeSemantic:
		return t.Semantic.Search(ctx, userID, agentID, query, limit)
	case domain.MemoryTypeProcedural:
		return t.Procedural.Search(ctx, userID, agentID, query, limit)
	default:
		return nil, ErrInvalidType
	}
}
