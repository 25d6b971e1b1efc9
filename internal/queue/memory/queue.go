// Package memory provides a bounded in-process candidate queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = ingest.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan ingest.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

var _ ingest.Queue = (*Queue)(nil)

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan ingest.QueueItem, capacity)}
}

// Enqueue pushes an item, blocking while the queue is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	select {
	case <-ctx.Done():
		return ingest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return ingest.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Buffered items can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
