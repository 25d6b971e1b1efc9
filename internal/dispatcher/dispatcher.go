// Package dispatcher manages worker fan-out over the candidate queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   ingest.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue ingest.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds size workers over queue, all feeding ingester.
func NewPool(queue ingest.Queue, ingester worker.Ingester, size int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	workers := make([]*worker.Worker, size)
	for i := range workers {
		workers[i] = worker.New(i+1, queue, ingester, cfg, logger)
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until every one has returned, either
// because ctx finished or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
