package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/queue/memory"
)

type fakeIngester struct {
	mu       sync.Mutex
	outcomes []ingest.Result
	triggers []string
	seen     []ingest.Candidate
}

// Run replays the queued outcomes in order; once exhausted every call ingests.
func (f *fakeIngester) Run(_ context.Context, trigger string, cands []ingest.Candidate) pipeline.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	f.seen = append(f.seen, cands...)
	res := ingest.Result{Outcome: ingest.OutcomeIngested}
	if len(f.outcomes) > 0 {
		res, f.outcomes = f.outcomes[0], f.outcomes[1:]
	}
	res.Candidate = cands[0]
	var out pipeline.Summary
	out.Add(res)
	out.Results = []ingest.Result{res}
	return out
}

func (f *fakeIngester) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fastRetry struct{ max int }

func (r fastRetry) MaxAttempts() int                { return r.max }
func (r fastRetry) ShouldRetry(_ error, _ int) bool { return false }
func (r fastRetry) Backoff(int) time.Duration       { return time.Millisecond }

func enqueue(t *testing.T, q *memory.Queue, urls ...string) {
	t.Helper()
	for _, u := range urls {
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{
			Candidate: ingest.Candidate{SourceURL: u, Platform: ingest.PlatformTelegram, MediaRef: "file"},
			Received:  time.Now(),
			Origin:    "telegram",
		}))
	}
}

func TestWorkerDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	enqueue(t, q, "https://t.me/c/1", "https://t.me/c/2", "https://t.me/c/3")
	q.Close()

	ing := &fakeIngester{}
	w := New(1, q, ing, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}

	assert.Equal(t, 3, ing.calls())
	assert.Equal(t, []string{pipeline.TriggerWebhook, pipeline.TriggerWebhook, pipeline.TriggerWebhook}, ing.triggers)
	assert.Equal(t, "https://t.me/c/2", ing.seen[1].SourceURL)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	w := New(1, q, &fakeIngester{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker ignored cancellation")
	}
}

func TestWorkerRetriesNetworkFailures(t *testing.T) {
	t.Parallel()

	networkFail := ingest.Result{
		Outcome: ingest.OutcomeFailed,
		Err:     fmt.Errorf("%w: status 502", ingest.ErrNetwork),
	}
	tests := []struct {
		name      string
		outcomes  []ingest.Result
		retry     RetryPolicy
		wantCalls int
	}{
		{"succeeds on second attempt", []ingest.Result{networkFail}, fastRetry{max: 3}, 2},
		{"gives up at max attempts", []ingest.Result{networkFail, networkFail, networkFail, networkFail}, fastRetry{max: 3}, 3},
		{"no policy means one attempt", []ingest.Result{networkFail}, nil, 1},
		{"hotlink rejection is final", []ingest.Result{{
			Outcome: ingest.OutcomeFailed,
			Err:     fmt.Errorf("%w: 403", ingest.ErrHotlinkRejected),
		}}, fastRetry{max: 3}, 1},
		{"invalid content is final", []ingest.Result{{
			Outcome: ingest.OutcomeFailed,
			Err:     fmt.Errorf("%w: not an image", ingest.ErrInvalidContent),
		}}, fastRetry{max: 3}, 1},
		{"partial failure is not retried", []ingest.Result{{
			Outcome: ingest.OutcomeFailedPartial,
			Err:     ingest.ErrTranslationFailed,
		}}, fastRetry{max: 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := memory.NewQueue(1)
			enqueue(t, q, "https://t.me/c/9")
			q.Close()

			ing := &fakeIngester{outcomes: tt.outcomes}
			w := New(1, q, ing, Config{Retry: tt.retry}, nil)
			w.Run(context.Background())
			assert.Equal(t, tt.wantCalls, ing.calls())
		})
	}
}

type policyRetry struct{ fastRetry }

func (policyRetry) ShouldRetry(err error, _ int) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func TestWorkerDefersToPolicy(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	enqueue(t, q, "https://t.me/c/10")
	q.Close()

	ing := &fakeIngester{outcomes: []ingest.Result{{
		Outcome: ingest.OutcomeFailed,
		Err:     fmt.Errorf("store media: %w", context.DeadlineExceeded),
	}}}
	w := New(1, q, ing, Config{Retry: policyRetry{fastRetry{max: 2}}}, nil)
	w.Run(context.Background())
	assert.Equal(t, 2, ing.calls())
}

func TestWorkerUsesRealPolicy(t *testing.T) {
	t.Parallel()

	policy := ingest.NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond)
	q := memory.NewQueue(1)
	enqueue(t, q, "https://t.me/c/11")
	q.Close()

	ing := &fakeIngester{outcomes: []ingest.Result{{
		Outcome: ingest.OutcomeFailed,
		Err:     fmt.Errorf("%w: reset", ingest.ErrNetwork),
	}}}
	New(1, q, ing, Config{Retry: policy}, nil).Run(context.Background())
	assert.Equal(t, 2, ing.calls())
}
