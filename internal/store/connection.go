package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mnemoslab/mnemos/internal/domain"
)

// CreateConnections upserts a batch of edges atomically. For an ordered
// (source, target) pair there is at most one edge per (user, type);
// re-derivation updates strength, reason and metadata in place.
func (g *Gateway) CreateConnections(ctx context.Context, userID string, edges []domain.MemoryConnection) error {
	if len(edges) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range edges {
		batch.Queue(
			`INSERT INTO memory_connections (id, user_id, source_memory_id, target_memory_id,
			                                 connection_type, strength, reason, created_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (user_id, source_memory_id, target_memory_id, connection_type) DO UPDATE
			 SET strength = EXCLUDED.strength,
			     reason = EXCLUDED.reason,
			     metadata = EXCLUDED.metadata`,
			e.ID, userID, e.SourceMemoryID, e.TargetMemoryID,
			string(e.Type), e.Strength, e.Reason, e.CreatedAt, e.Metadata,
		)
	}

	results := g.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range edges {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create connections: %w", err)
		}
	}
	return nil
}

// GetConnectionsForMemories returns every edge touching any of the given
// memory ids, in either direction, scoped to the user.
func (g *Gateway) GetConnectionsForMemories(ctx context.Context, userID string, memoryIDs []string) ([]domain.MemoryConnection, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}

	rows, err := g.db.Query(ctx,
		`SELECT id, user_id, source_memory_id, target_memory_id, connection_type, strength,
		        COALESCE(reason, ''), created_at, metadata
		 FROM memory_connections
		 WHERE user_id = $1 AND (source_memory_id = ANY($2) OR target_memory_id = ANY($2))`,
		userID, memoryIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("get connections: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryConnection
	for rows.Next() {
		var e domain.MemoryConnection
		var connType string
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceMemoryID, &e.TargetMemoryID, &connType,
			&e.Strength, &e.Reason, &e.CreatedAt, &e.Metadata); err != nil {
			return nil, err
		}
		e.Type = domain.ConnectionType(connType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteConnectionsForMemory removes every edge touching a memory. Used by
// consolidation when originals are not preserved.
func (g *Gateway) DeleteConnectionsForMemory(ctx context.Context, userID, memoryID string) error {
	_, err := g.db.Exec(ctx,
		`DELETE FROM memory_connections
		 WHERE user_id = $1 AND (source_memory_id = $2 OR target_memory_id = $2)`,
		userID, memoryID,
	)
	return err
}
