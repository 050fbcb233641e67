package service

import (
	"context"
	"testing"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T, gw *mockGateway, client domain.Embedder, workers, buffer int) *DiscoveryQueue {
	t.Helper()
	manager := NewConnectionManager(gw, newTestEmbedder(t, client), nil, NewCostTracker(), testIntelligence(), testLogger())
	return NewDiscoveryQueue(manager, workers, buffer, zap.NewNop())
}

func awaitOutcome(t *testing.T, ch <-chan DiscoveryOutcome) DiscoveryOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("discovery outcome not resolved in time")
		return DiscoveryOutcome{}
	}
}

func TestDiscoveryQueue_PersistsEdges(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()

	seedMemory(gw, "sm_1", "user-1", "agent-1", "anchor", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "neighbour", domain.MemoryTypeSemantic, now-1000)

	client := &vectorClient{vecs: map[string][]float32{
		"anchor":    {1, 0, 0},
		"neighbour": vecAtCosine(0.95),
	}}

	q := newTestQueue(t, gw, client, 2, 16)
	q.Start()
	defer q.Stop()

	out := awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_1"))
	if out.Err != nil {
		t.Fatalf("expected no error, got %v", out.Err)
	}
	if len(out.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(out.Edges))
	}
	if got := gw.connections(); len(got) != 1 {
		t.Fatalf("expected edge persisted, found %d", len(got))
	}
}

func TestDiscoveryQueue_SingleFlight(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()
	seedMemory(gw, "sm_1", "user-1", "agent-1", "anchor", domain.MemoryTypeSemantic, now)

	client := &vectorClient{vecs: map[string][]float32{"anchor": {1, 0, 0}}}

	// Workers not started: the first task parks in the buffer and holds
	// the key, so the duplicate must resolve on its own.
	q := newTestQueue(t, gw, client, 1, 16)

	first := q.Enqueue("user-1", "agent-1", "sm_1")
	dup := awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_1"))
	if dup.Err != nil {
		t.Fatalf("duplicate enqueue should resolve clean, got %v", dup.Err)
	}
	if len(dup.Edges) != 0 {
		t.Fatalf("duplicate enqueue should resolve empty, got %d edges", len(dup.Edges))
	}

	q.Start()
	defer q.Stop()
	awaitOutcome(t, first)
}

func TestDiscoveryQueue_DropsWhenFull(t *testing.T) {
	gw := newMockGateway()
	now := time.Now().UnixMilli()
	seedMemory(gw, "sm_1", "user-1", "agent-1", "one", domain.MemoryTypeSemantic, now)
	seedMemory(gw, "sm_2", "user-1", "agent-1", "two", domain.MemoryTypeSemantic, now)

	q := newTestQueue(t, gw, embedding.NewMockClient(), 1, 1)

	// Workers not started, so the buffer of one fills on the first enqueue.
	q.Enqueue("user-1", "agent-1", "sm_1")
	out := awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_2"))
	if out.Err != nil {
		t.Fatalf("dropped task should resolve clean, got %v", out.Err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped task, got %d", q.Dropped())
	}

	// The dropped key is released, so a later enqueue can run.
	q.Start()
	defer q.Stop()
	awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_2"))
}

func TestDiscoveryQueue_FailureResolvesFuture(t *testing.T) {
	gw := newMockGateway()
	q := newTestQueue(t, gw, embedding.NewMockClient(), 1, 16)
	q.Start()
	defer q.Stop()

	out := awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_missing"))
	if out.Err == nil {
		t.Fatal("expected an error for a missing memory")
	}

	// The worker must survive the failure and process later tasks.
	now := time.Now().UnixMilli()
	seedMemory(gw, "sm_1", "user-1", "agent-1", "still alive", domain.MemoryTypeSemantic, now)
	out = awaitOutcome(t, q.Enqueue("user-1", "agent-1", "sm_1"))
	if out.Err != nil {
		t.Fatalf("expected worker to recover, got %v", out.Err)
	}
}

func TestDiscoveryQueue_RejectsEmptyUser(t *testing.T) {
	q := newTestQueue(t, newMockGateway(), embedding.NewMockClient(), 1, 16)
	out := awaitOutcome(t, q.Enqueue("", "agent-1", "sm_1"))
	if out.Err == nil {
		t.Fatal("expected an error for empty user id")
	}
}

// Store-then-discover is the asynchronous write path: the façade returns
// immediately and edges show up in the background.
func TestStoreThenDiscover_EdgesAppear(t *testing.T) {
	gw := newMockGateway()
	client := &vectorClient{vecs: map[string][]float32{
		"the build pipeline uses bazel": {1, 0, 0},
		"bazel caches remote artifacts": vecAtCosine(0.95),
	}}
	manager := NewConnectionManager(gw, newTestEmbedder(t, client), nil, NewCostTracker(), testIntelligence(), testLogger())
	q := NewDiscoveryQueue(manager, 2, 16, zap.NewNop())
	q.Start()
	defer q.Stop()

	types := NewMemoryTypes(gw, q, testIntelligence(), testLogger())
	ctx := context.Background()

	firstID, err := types.Semantic.Store(ctx, "user-1", "agent-1", "the build pipeline uses bazel", SemanticOptions{})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	secondID, err := types.Semantic.Store(ctx, "user-1", "agent-1", "bazel caches remote artifacts", SemanticOptions{})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range gw.connections() {
			if e.SourceMemoryID == secondID && e.TargetMemoryID == firstID {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no edge from %s to %s discovered before the deadline", secondID, firstID)
}

// slowClient stalls every embedding call, standing in for a laggy provider.
type slowClient struct {
	delay time.Duration
}

func (c *slowClient) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []float32{1, 0, 0}, nil
}

func (c *slowClient) Dimension() int { return 3 }

func TestStore_ReturnsBeforeEmbedding(t *testing.T) {
	gw := newMockGateway()
	q := newTestQueue(t, gw, &slowClient{delay: 500 * time.Millisecond}, 1, 16)
	q.Start()
	defer q.Stop()

	types := NewMemoryTypes(gw, q, testIntelligence(), testLogger())

	start := time.Now()
	id, err := types.Semantic.Store(context.Background(), "user-1", "agent-1", "writes never wait on embeddings", SemanticOptions{})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if elapsed >= 50*time.Millisecond {
		t.Fatalf("store took %v, want well under the embedder latency", elapsed)
	}
	if gw.memory(id) == nil {
		t.Fatal("memory not durable at return")
	}
}
