package task

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "DeepResearch/internal/errors"
	"DeepResearch/pkg/logger"
)

const defaultMemoryQueueSize = 64

// MemoryQueue keeps run ids in a buffered channel. It serves single-process
// deployments and tests; ids are lost on restart, which Service.Resume
// compensates for.
type MemoryQueue struct {
	ids    chan string
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewMemoryQueue creates a queue buffering up to size ids.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{ids: make(chan string, size), logger: logger.Named("memory_queue")}
}

// Publish implements Producer. It blocks while the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "queue is closed", xerrors.WithRetryable(false))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ids <- taskID:
		return nil
	}
}

// Consume implements Consumer. At most workerCount handlers run at once.
// It returns ctx.Err() on cancellation and nil once the queue is closed and
// drained, after every started handler has returned.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var g errgroup.Group
	g.SetLimit(max(workerCount, 1))
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case id, ok := <-q.ids:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				if err := handler(ctx, id); err != nil {
					q.logger.Warn("handler failed", "task_id", id, "error", err)
				}
				return nil
			})
		}
	}
}

// Len returns the number of ids waiting.
func (q *MemoryQueue) Len() int { return len(q.ids) }

// Close stops Publish and lets Consume drain what is buffered.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ids)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
