// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/queue/memory"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/worker"
)

type countingIngester struct {
	runs atomic.Int32
}

func (c *countingIngester) Run(_ context.Context, _ string, cands []ingest.Candidate) pipeline.Summary {
	c.runs.Add(1)
	var out pipeline.Summary
	for _, cand := range cands {
		res := ingest.Result{Candidate: cand, Outcome: ingest.OutcomeIngested}
		out.Add(res)
		out.Results = append(out.Results, res)
	}
	return out
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	dispatch := NewPool(queue, &countingIngester{}, 2, worker.Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(8)
	ing := &countingIngester{}
	dispatch := NewPool(queue, ing, 3, worker.Config{}, nil)

	for i := range 5 {
		require.NoError(t, dispatch.Enqueue(context.Background(), ingest.QueueItem{
			Candidate: ingest.Candidate{SourceURL: fmt.Sprintf("https://t.me/c/%d", i)},
		}))
	}
	queue.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not return after draining")
	}
	assert.Equal(t, int32(5), ing.runs.Load())
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), ingest.QueueItem{})
	require.Error(t, err)
	assert.Equal(t, "queue enqueue: boom", err.Error())
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ ingest.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ingest.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, ingest.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (ingest.QueueItem, error) {
	return ingest.QueueItem{}, nil
}
