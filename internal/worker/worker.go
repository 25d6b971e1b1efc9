// Package worker drains queued webhook candidates through the pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
)

// Ingester runs a batch of candidates as one run.
type Ingester interface {
	Run(ctx context.Context, trigger string, cands []ingest.Candidate) pipeline.Summary
}

// RetryPolicy decides whether a failed item is attempted again.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Config controls Worker behavior.
type Config struct {
	// Trigger labels the runs this worker starts.
	Trigger string
	// Retry is consulted after a failed attempt. Nil means one attempt.
	Retry RetryPolicy
}

// Worker consumes queue items and hands each to the pipeline as its own run.
type Worker struct {
	id       int
	queue    ingest.Queue
	ingester Ingester
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue ingest.Queue, ingester Ingester, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Trigger == "" {
		cfg.Trigger = pipeline.TriggerWebhook
	}
	return &Worker{
		id:       id,
		queue:    queue,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ingest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued candidate",
			zap.String("source_url", item.Candidate.SourceURL),
			zap.String("origin", item.Origin),
			zap.Duration("queued_for", time.Since(item.Received)),
		)
		w.handle(ctx, item)
	}
}

func (w *Worker) handle(ctx context.Context, item ingest.QueueItem) {
	for attempt := 1; ; attempt++ {
		summary := w.ingester.Run(ctx, w.cfg.Trigger, []ingest.Candidate{item.Candidate})
		res := lastResult(summary)
		if res.Outcome != ingest.OutcomeFailed || !w.shouldRetry(res.Err, attempt) {
			w.logger.Debug("candidate handled",
				zap.String("source_url", item.Candidate.SourceURL),
				zap.String("outcome", string(res.Outcome)),
				zap.Int("attempts", attempt),
			)
			return
		}
		wait := w.cfg.Retry.Backoff(attempt)
		w.logger.Info("retrying candidate",
			zap.String("source_url", item.Candidate.SourceURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(res.Err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// shouldRetry retries transient network failures alongside whatever the
// policy itself accepts.
func (w *Worker) shouldRetry(err error, attempt int) bool {
	if w.cfg.Retry == nil || err == nil || attempt >= w.cfg.Retry.MaxAttempts() {
		return false
	}
	if errors.Is(err, ingest.ErrNetwork) && !errors.Is(err, ingest.ErrHotlinkRejected) {
		return true
	}
	return w.cfg.Retry.ShouldRetry(err, attempt)
}

func lastResult(summary pipeline.Summary) ingest.Result {
	if len(summary.Results) == 0 {
		return ingest.Result{}
	}
	return summary.Results[len(summary.Results)-1]
}
