package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mnemoslab/mnemos/internal/domain"
	pgvector "github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a row scoped to the given user does not exist.
var ErrNotFound = errors.New("not found")

// Gateway is the Postgres-backed StorageGateway. Every query is scoped by
// user_id so isolation holds at the storage level, not just in the core.
type Gateway struct {
	db *pgxpool.Pool
}

func NewGateway(db *pgxpool.Pool) *Gateway {
	return &Gateway{db: db}
}

// Interface conformance, including the optional capabilities.
var (
	_ domain.StorageGateway        = (*Gateway)(nil)
	_ domain.ConnectionBatchWriter = (*Gateway)(nil)
	_ domain.ConnectionReader      = (*Gateway)(nil)
	_ domain.DecayApplier          = (*Gateway)(nil)
	_ domain.HybridSearcher        = (*Gateway)(nil)
	_ domain.UserLister            = (*Gateway)(nil)
)

func (g *Gateway) Store(ctx context.Context, m *domain.Memory) error {
	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	_, err := g.db.Exec(ctx,
		`INSERT INTO memories (id, user_id, agent_id, type, content, importance, resonance, access_count,
		                       created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		                       embedding_id, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content,
		     importance = EXCLUDED.importance,
		     resonance = EXCLUDED.resonance,
		     updated_at = EXCLUDED.updated_at,
		     keywords = EXCLUDED.keywords,
		     metadata = EXCLUDED.metadata`,
		m.ID, m.UserID, m.AgentID, m.Type, m.Content, m.Importance, m.Resonance, m.AccessCount,
		m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, nullIfEmpty(m.SessionID), m.TokenCount, m.Keywords,
		nullIfEmpty(m.EmbeddingID), embedding, m.Metadata,
	)
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}

func (g *Gateway) GetByID(ctx context.Context, userID, id string) (*domain.Memory, error) {
	m := &domain.Memory{}
	var sessionID, embeddingID *string
	err := g.db.QueryRow(ctx,
		`SELECT id, user_id, agent_id, type, content, importance, resonance, access_count,
		        created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		        embedding_id, metadata
		 FROM memories WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&m.ID, &m.UserID, &m.AgentID, &m.Type, &m.Content, &m.Importance, &m.Resonance, &m.AccessCount,
		&m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &m.TokenCount, &m.Keywords,
		&embeddingID, &m.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sessionID != nil {
		m.SessionID = *sessionID
	}
	if embeddingID != nil {
		m.EmbeddingID = *embeddingID
	}
	return m, nil
}

func (g *Gateway) Delete(ctx context.Context, userID, agentID, id string) error {
	tag, err := g.db.Exec(ctx,
		`DELETE FROM memories WHERE id = $1 AND user_id = $2 AND agent_id = $3`,
		id, userID, agentID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Recall ranks memories by full-text relevance against the query. Vector
// ranking lives in HybridSearch; this is the text-only path.
func (g *Gateway) Recall(ctx context.Context, userID, agentID, query string, opts domain.RecallOpts) ([]domain.MemoryWithScore, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	conditions := []string{"user_id = $1", "agent_id = $2"}
	args := []any{userID, agentID}

	if opts.Type != nil {
		args = append(args, string(*opts.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.TimeRange != nil {
		args = append(args, opts.TimeRange.Start, opts.TimeRange.End)
		conditions = append(conditions, fmt.Sprintf("created_at BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}

	args = append(args, query)
	queryParam := len(args)
	args = append(args, opts.Limit)
	limitParam := len(args)

	sql := fmt.Sprintf(
		`SELECT id, user_id, agent_id, type, content, importance, resonance, access_count,
		        created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		        embedding_id, metadata,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $%d)) AS rank
		 FROM memories
		 WHERE %s
		   AND (to_tsvector('english', content) @@ plainto_tsquery('english', $%d) OR content ILIKE '%%' || $%d || '%%')
		 ORDER BY rank DESC, created_at DESC, id ASC
		 LIMIT $%d`,
		queryParam, strings.Join(conditions, " AND "), queryParam, queryParam, limitParam)

	rows, err := g.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("recall query: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

func (g *Gateway) GetByType(ctx context.Context, userID, agentID string, t domain.MemoryType, opts domain.ListOpts) ([]domain.Memory, error) {
	conditions := []string{"user_id = $1", "agent_id = $2", "type = $3"}
	args := []any{userID, agentID, string(t)}

	if opts.CreatedBefore > 0 {
		args = append(args, opts.CreatedBefore)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	sql := fmt.Sprintf(
		`SELECT id, user_id, agent_id, type, content, importance, resonance, access_count,
		        created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		        embedding_id, metadata
		 FROM memories WHERE %s
		 ORDER BY created_at DESC, id ASC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args))

	rows, err := g.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("get by type: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetRecent returns the newest memories across all types for discovery scans.
func (g *Gateway) GetRecent(ctx context.Context, userID, agentID string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := g.db.Query(ctx,
		`SELECT id, user_id, agent_id, type, content, importance, resonance, access_count,
		        created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		        embedding_id, metadata
		 FROM memories WHERE user_id = $1 AND agent_id = $2
		 ORDER BY created_at DESC, id ASC
		 LIMIT $3`,
		userID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetEmbedding persists a vector computed after the original write, so
// the fast write path never waits on an embedding provider.
func (g *Gateway) SetEmbedding(ctx context.Context, userID, id string, vec []float32) error {
	tag, err := g.db.Exec(ctx,
		`UPDATE memories
		 SET embedding = $3,
		     updated_at = (EXTRACT(EPOCH FROM NOW()) * 1000)::bigint
		 WHERE id = $1 AND user_id = $2`,
		id, userID, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gateway) GetStats(ctx context.Context, userID, agentID string) (*domain.MemoryStats, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, "agent_id = $2")
	}

	sql := fmt.Sprintf(
		`SELECT type, COUNT(*), COALESCE(AVG(importance), 0)
		 FROM memories WHERE %s GROUP BY type`,
		strings.Join(conditions, " AND "))

	rows, err := g.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.MemoryStats{ByType: make(map[domain.MemoryType]int)}
	var weighted float64
	for rows.Next() {
		var t string
		var count int
		var avg float64
		if err := rows.Scan(&t, &count, &avg); err != nil {
			return nil, err
		}
		stats.ByType[domain.MemoryType(t)] = count
		stats.Total += count
		weighted += avg * float64(count)
	}
	if stats.Total > 0 {
		stats.AvgImportance = weighted / float64(stats.Total)
	}
	return stats, rows.Err()
}

// ListUserAgents enumerates the distinct tenant scopes present in the
// store, for the background consolidation and decay sweeps.
func (g *Gateway) ListUserAgents(ctx context.Context) ([]domain.UserAgent, error) {
	rows, err := g.db.Query(ctx, `SELECT DISTINCT user_id, agent_id FROM memories ORDER BY user_id, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list user agents: %w", err)
	}
	defer rows.Close()

	var out []domain.UserAgent
	for rows.Next() {
		var ua domain.UserAgent
		if err := rows.Scan(&ua.UserID, &ua.AgentID); err != nil {
			return nil, err
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

func (g *Gateway) TouchAccess(ctx context.Context, userID, id string) error {
	_, err := g.db.Exec(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1,
		     last_accessed_at = (EXTRACT(EPOCH FROM NOW()) * 1000)::bigint
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return err
}

// ApplyDecay multiplies resonance for decaying types and removes memories
// that fall below the removal threshold. Connections referencing removed
// memories are deleted by the FK cascade.
func (g *Gateway) ApplyDecay(ctx context.Context, userID, agentID string, opts domain.DecayOpts) (*domain.DecayResult, error) {
	if opts.DecayRate <= 0 {
		opts.DecayRate = 0.1
	}
	if opts.RemovalThreshold <= 0 {
		opts.RemovalThreshold = 0.1
	}

	result := &domain.DecayResult{}

	tag, err := g.db.Exec(ctx,
		`UPDATE memories
		 SET resonance = GREATEST(resonance * (1 - $3), 0),
		     updated_at = (EXTRACT(EPOCH FROM NOW()) * 1000)::bigint
		 WHERE user_id = $1 AND agent_id = $2 AND type IN ('working', 'episodic')`,
		userID, agentID, opts.DecayRate,
	)
	if err != nil {
		return nil, fmt.Errorf("apply decay: %w", err)
	}
	result.Processed = int(tag.RowsAffected())
	result.Decayed = result.Processed

	tag, err = g.db.Exec(ctx,
		`DELETE FROM memories
		 WHERE user_id = $1 AND agent_id = $2 AND type IN ('working', 'episodic') AND resonance < $3`,
		userID, agentID, opts.RemovalThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("decay removal: %w", err)
	}
	result.Removed = int(tag.RowsAffected())

	return result, nil
}

// HybridSearch blends pgvector cosine similarity with full-text rank using
// the supplied weights. The returned score is the blended value.
func (g *Gateway) HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, weights domain.HybridWeights, opts domain.RecallOpts) ([]domain.MemoryWithScore, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	vec := pgvector.NewVector(embedding)

	conditions := []string{"user_id = $1", "agent_id = $2", "embedding IS NOT NULL"}
	args := []any{userID, agentID}

	if opts.Type != nil {
		args = append(args, string(*opts.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.TimeRange != nil {
		args = append(args, opts.TimeRange.Start, opts.TimeRange.End)
		conditions = append(conditions, fmt.Sprintf("created_at BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}

	args = append(args, vec)
	vecParam := len(args)
	args = append(args, query)
	queryParam := len(args)
	args = append(args, weights.Vector, weights.Text)
	wv, wt := len(args)-1, len(args)
	args = append(args, opts.Limit)
	limitParam := len(args)

	sql := fmt.Sprintf(
		`SELECT id, user_id, agent_id, type, content, importance, resonance, access_count,
		        created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
		        embedding_id, metadata,
		        ($%d * (1 - (embedding <=> $%d))
		          + $%d * ts_rank(to_tsvector('english', content), plainto_tsquery('english', $%d))) AS score
		 FROM memories
		 WHERE %s
		 ORDER BY score DESC, id ASC
		 LIMIT $%d`,
		wv, vecParam, wt, queryParam, strings.Join(conditions, " AND "), limitParam)

	rows, err := g.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

func scanMemory(rows pgx.Rows) (*domain.Memory, error) {
	m := &domain.Memory{}
	var sessionID, embeddingID *string
	err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &m.Type, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &m.TokenCount,
		&m.Keywords, &embeddingID, &m.Metadata)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		m.SessionID = *sessionID
	}
	if embeddingID != nil {
		m.EmbeddingID = *embeddingID
	}
	return m, nil
}

func scanScored(rows pgx.Rows) ([]domain.MemoryWithScore, error) {
	var out []domain.MemoryWithScore
	for rows.Next() {
		m := domain.MemoryWithScore{}
		var sessionID, embeddingID *string
		err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &m.Type, &m.Content, &m.Importance, &m.Resonance,
			&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &sessionID, &m.TokenCount,
			&m.Keywords, &embeddingID, &m.Metadata, &m.Score)
		if err != nil {
			return nil, err
		}
		if sessionID != nil {
			m.SessionID = *sessionID
		}
		if embeddingID != nil {
			m.EmbeddingID = *embeddingID
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
