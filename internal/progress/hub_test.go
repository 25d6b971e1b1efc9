package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(stageEvent(ingest.StageDownloading))
	hub.Emit(stageEvent(ingest.StageTranslating))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesPartialBatchOnTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(stageEvent(ingest.StageDownloading))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop(), dropLog: dropThrottle{interval: time.Hour}}
	start := time.Now()
	hub.Emit(stageEvent(ingest.StageDownloading))
	hub.Emit(stageEvent(ingest.StageDownloading))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(2), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Kind: KindRunStart})
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())
}

func TestHubCloseDrainsBuffered(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(stageEvent(ingest.StageDownloading))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	assert.True(t, sink.closed)

	hub.Emit(stageEvent(ingest.StageDownloading))
	assert.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ok := stageEvent(ingest.StageDownloading)
	require.NoError(t, ok.Validate())

	noStage := ok
	noStage.Stage = ""
	require.Error(t, noStage.Validate())

	done := ok
	done.Kind = KindItemDone
	require.Error(t, done.Validate())
	done.Outcome = ingest.OutcomeIngested
	require.NoError(t, done.Validate())

	negative := ok
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())

	unknown := ok
	unknown.Kind = "HEARTBEAT"
	require.Error(t, unknown.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func stageEvent(stage ingest.Stage) Event {
	return Event{
		RunID:     UUIDToBytes(uuid.New()),
		TS:        time.Now(),
		Kind:      KindItemStage,
		Stage:     stage,
		Platform:  ingest.PlatformTwitter,
		SourceURL: "https://x.com/lmsy/status/1",
	}
}
