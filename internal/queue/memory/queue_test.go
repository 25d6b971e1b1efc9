package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

func item(url string) ingest.QueueItem {
	return ingest.QueueItem{
		Candidate: ingest.Candidate{SourceURL: url, Platform: ingest.PlatformTelegram, MediaRef: "file-1"},
		Origin:    "telegram",
	}
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan ingest.QueueItem, 1)
	go func() {
		got, err := q.Dequeue(context.Background())
		if err == nil {
			result <- got
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), item("https://t.me/c/1")))
	select {
	case got := <-result:
		assert.Equal(t, "https://t.me/c/1", got.Candidate.SourceURL)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue(1)
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), item("a")))
	assert.Equal(t, 1, q.Len())
	err = q.Enqueue(ctx, item("b"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), item("a")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), item("b")), ErrClosed)
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Candidate.SourceURL)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
