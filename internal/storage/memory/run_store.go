package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

const defaultRunCapacity = 200

// RunStore keeps the most recent ingestion runs. The oldest run is evicted
// once capacity is reached.
type RunStore struct {
	mu       sync.RWMutex
	capacity int
	runs     map[uuid.UUID]*progress.RunRecord
	order    []uuid.UUID
}

var _ progress.RunRepository = (*RunStore)(nil)

// NewRunStore creates a RunStore holding up to capacity runs.
func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = defaultRunCapacity
	}
	return &RunStore{capacity: capacity, runs: make(map[uuid.UUID]*progress.RunRecord)}
}

// StartRun records a running run. Restarting a known run is a no-op.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, trigger string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.insertLocked(id, trigger, at)
	return nil
}

// AddRunDelta folds outcome counts into the run, creating it if the start
// event was lost.
func (s *RunStore) AddRunDelta(_ context.Context, id uuid.UUID, delta progress.RunDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		run = s.insertLocked(id, "", delta.At)
	}
	for outcome, n := range delta.Outcomes {
		run.Outcomes[outcome] += n
	}
	run.Bytes += delta.Bytes
	return nil
}

// FinishRun marks the run finished.
func (s *RunStore) FinishRun(_ context.Context, id uuid.UUID, status progress.RunStatus, at time.Time, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish run %s: %w", id, ingest.ErrNotFound)
	}
	run.Status = status
	run.FinishedAt = &at
	run.Note = note
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (progress.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return progress.RunRecord{}, ingest.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]progress.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Clone(s.order)
	slices.Reverse(ids)
	out := make([]progress.RunRecord, 0, len(ids))
	for _, id := range page(ids, offset, limit) {
		out = append(out, cloneRun(s.runs[id]))
	}
	return out, nil
}

func (s *RunStore) insertLocked(id uuid.UUID, trigger string, at time.Time) *progress.RunRecord {
	if len(s.order) >= s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	run := &progress.RunRecord{
		ID:        id,
		Trigger:   trigger,
		Status:    progress.RunRunning,
		StartedAt: at,
		Outcomes:  make(map[ingest.Outcome]int),
	}
	s.runs[id] = run
	s.order = append(s.order, id)
	return run
}

func cloneRun(run *progress.RunRecord) progress.RunRecord {
	out := *run
	out.Outcomes = maps.Clone(run.Outcomes)
	if run.FinishedAt != nil {
		at := *run.FinishedAt
		out.FinishedAt = &at
	}
	return out
}
