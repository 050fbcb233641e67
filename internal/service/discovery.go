package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnemoslab/mnemos/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultDiscoveryWorkers = 4
	defaultDiscoveryBuffer  = 256
	// taskPacing keeps a hot queue from spinning between tasks.
	taskPacing = 10 * time.Millisecond
	// discoveryTimeout bounds one discovery run end to end.
	discoveryTimeout = 30 * time.Second
)

// DiscoveryOutcome is the resolved result of one enqueued discovery.
// Duplicate enqueues resolve immediately with no edges and no error.
type DiscoveryOutcome struct {
	Edges []domain.MemoryConnection
	Err   error
}

type discoveryTask struct {
	userID   string
	agentID  string
	memoryID string
	key      string
	done     chan DiscoveryOutcome
}

// DiscoveryQueue is a single-flight background queue keyed by
// "{userID}:{agentID}:{memoryID}". At most one task per key is queued or
// running at any time; a second enqueue during that window resolves with an
// empty outcome. The channel is bounded: when it is full the task is
// dropped (with a metric) rather than blocking the write path.
type DiscoveryQueue struct {
	manager *ConnectionManager
	logger  *zap.Logger

	tasks   chan *discoveryTask
	mu      sync.Mutex
	pending map[string]struct{}

	workers int
	stopCh  chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Int64
}

func NewDiscoveryQueue(manager *ConnectionManager, workers, buffer int, logger *zap.Logger) *DiscoveryQueue {
	if workers <= 0 {
		workers = defaultDiscoveryWorkers
	}
	if buffer <= 0 {
		buffer = defaultDiscoveryBuffer
	}
	return &DiscoveryQueue{
		manager: manager,
		logger:  logger,
		tasks:   make(chan *discoveryTask, buffer),
		pending: make(map[string]struct{}),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *DiscoveryQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case task := <-q.tasks:
					q.run(task)
					time.Sleep(taskPacing)
				case <-q.stopCh:
					return
				}
			}
		}()
	}
	q.logger.Info("discovery queue started", zap.Int("workers", q.workers))
}

// Stop halts the workers. Queued tasks that have not started are abandoned.
func (q *DiscoveryQueue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
	q.logger.Info("discovery queue stopped")
}

// Dropped reports how many tasks were shed because the queue was full.
func (q *DiscoveryQueue) Dropped() int64 {
	return q.dropped.Load()
}

func resolvedEmpty() chan DiscoveryOutcome {
	ch := make(chan DiscoveryOutcome, 1)
	ch <- DiscoveryOutcome{}
	return ch
}

// Enqueue schedules discovery for a memory and returns a channel that
// resolves exactly once. Enqueueing a key that is already pending is never
// an error: the duplicate resolves immediately with no edges.
func (q *DiscoveryQueue) Enqueue(userID, agentID, memoryID string) <-chan DiscoveryOutcome {
	if userID == "" || memoryID == "" {
		ch := make(chan DiscoveryOutcome, 1)
		ch <- DiscoveryOutcome{Err: ErrInvalidUser}
		return ch
	}

	key := fmt.Sprintf("%s:%s:%s", userID, agentID, memoryID)

	q.mu.Lock()
	if _, inFlight := q.pending[key]; inFlight {
		q.mu.Unlock()
		return resolvedEmpty()
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	task := &discoveryTask{
		userID:   userID,
		agentID:  agentID,
		memoryID: memoryID,
		key:      key,
		done:     make(chan DiscoveryOutcome, 1),
	}

	select {
	case q.tasks <- task:
		return task.done
	default:
		q.release(key)
		q.dropped.Add(1)
		q.logger.Warn("discovery queue full, dropping task",
			zap.String("user", domain.TruncateID(userID)),
			zap.String("memory_id", memoryID))
		return resolvedEmpty()
	}
}

func (q *DiscoveryQueue) release(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

// run executes one discovery task: fetch the memory, discover connections,
// persist any edges, resolve the future. Failures resolve the future but
// never crash the worker.
func (q *DiscoveryQueue) run(task *discoveryTask) {
	defer q.release(task.key)

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	memory, err := q.manager.GetMemoryByID(ctx, task.userID, task.memoryID)
	if err != nil {
		q.logger.Warn("discovery: memory fetch failed",
			zap.String("user", domain.TruncateID(task.userID)),
			zap.String("memory_id", task.memoryID),
			zap.Error(err))
		task.done <- DiscoveryOutcome{Err: err}
		return
	}

	edges, err := q.manager.DiscoverConnections(ctx, task.userID, task.agentID, memory)
	if err != nil {
		task.done <- DiscoveryOutcome{Err: err}
		return
	}

	if len(edges) > 0 {
		if err := q.manager.CreateConnections(ctx, task.userID, edges); err != nil {
			// Background work is forgiving: log, hand the error to the
			// future, keep the worker alive.
			q.logger.Warn("discovery: edge persistence failed",
				zap.String("user", domain.TruncateID(task.userID)),
				zap.Int("edges", len(edges)),
				zap.Error(err))
			task.done <- DiscoveryOutcome{Edges: edges, Err: err}
			return
		}
	}

	task.done <- DiscoveryOutcome{Edges: edges}
}
