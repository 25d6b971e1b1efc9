package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline while flushing (default 5s).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Hub fans Event streams out to registered sinks. Emit never blocks; a full
// buffer drops the event and counts it.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropLog      dropThrottle
	pendingDrops atomic.Int64
	totalDrops   atomic.Int64
	closed       atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg.applyDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: dropThrottle{interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit enqueues evt. Invalid events and events emitted after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.pendingDrops.Add(1)
		h.totalDrops.Add(1)
		if h.dropLog.Allow(time.Now()) {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.pendingDrops.Swap(0)))
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.totalDrops.Load()
}

// Close drains buffered events, flushes and closes sinks, and waits for the
// background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.stopCh:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			if b.full(evt) {
				h.flush(b.take())
			}
		default:
			h.flush(b.take())
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batcher accumulates events and owns the partial-batch timer.
type batcher struct {
	events []Event
	limit  int
	wait   time.Duration
	timer  *time.Timer
	armed  bool
}

func newBatcher(limit int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	t.Stop()
	return &batcher{events: make([]Event, 0, limit), limit: limit, wait: wait, timer: t}
}

// add appends evt and reports whether the batch must be flushed now. A
// partial batch arms the timer.
func (b *batcher) add(evt Event) bool {
	if b.full(evt) {
		b.disarm()
		return true
	}
	b.arm()
	return false
}

func (b *batcher) full(evt Event) bool {
	b.events = append(b.events, evt)
	return len(b.events) >= b.limit
}

// take hands out a copy of the pending events and resets the buffer.
func (b *batcher) take() []Event {
	if len(b.events) == 0 {
		return nil
	}
	out := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	return out
}

func (b *batcher) arm() {
	b.disarm()
	b.timer.Reset(b.wait)
	b.armed = true
}

func (b *batcher) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

type dropThrottle struct {
	interval time.Duration
	last     atomic.Int64
}

func (d *dropThrottle) Allow(now time.Time) bool {
	if d.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := d.last.Load()
	if nano-last < d.interval.Nanoseconds() {
		return false
	}
	return d.last.CompareAndSwap(last, nano)
}
