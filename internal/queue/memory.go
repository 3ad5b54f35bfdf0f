package queue

import (
	"context"
	"sync"

	"github.com/RefatHex/ResQ/internal/worker"
)

// MemoryQueue keeps jobs in process on top of a worker pool. Jobs still
// buffered at shutdown are lost; the sweeper picks their events up again.
type MemoryQueue struct {
	workers    int
	bufferSize int

	mu   sync.Mutex
	pool *worker.WorkerPool[Job]
}

func NewMemoryQueue(workers, bufferSize int) *MemoryQueue {
	return &MemoryQueue{workers: workers, bufferSize: bufferSize}
}

func (q *MemoryQueue) Start(ctx context.Context, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pool = worker.NewWorkerPool("alerting", q.workers, q.bufferSize, worker.ProcessFunc[Job](h))
	q.pool.Start(ctx)
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := validate(job); err != nil {
		return err
	}
	q.mu.Lock()
	pool := q.pool
	q.mu.Unlock()
	if pool == nil {
		return worker.ErrPoolStopped
	}
	return pool.Submit(ctx, job)
}

func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	pool := q.pool
	q.mu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}
