package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

// RunSink folds events into a progress.RunRepository. Item outcomes are
// collapsed per run before writing.
type RunSink struct {
	repo   progress.RunRepository
	logger *zap.Logger
}

// NewRunSink constructs a RunSink for repo.
func NewRunSink(repo progress.RunRepository, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{repo: repo, logger: logger}
}

// Consume applies run starts first, then per-run outcome deltas, then run
// completions, so a batch holding a whole run lands in order.
func (s *RunSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*progress.RunDelta)
	var order []uuid.UUID
	var finishes []progress.Event

	for _, evt := range batch {
		id := evt.RunUUID()
		switch evt.Kind {
		case progress.KindRunStart:
			if err := s.repo.StartRun(ctx, id, evt.Trigger, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.KindItemDone:
			d := deltas[id]
			if d == nil {
				d = &progress.RunDelta{Outcomes: make(map[ingest.Outcome]int)}
				deltas[id] = d
				order = append(order, id)
			}
			d.Outcomes[evt.Outcome]++
			d.Bytes += evt.Bytes
			if evt.TS.After(d.At) {
				d.At = evt.TS
			}
		case progress.KindRunDone:
			finishes = append(finishes, evt)
		}
	}

	for _, id := range order {
		if err := s.repo.AddRunDelta(ctx, id, *deltas[id]); err != nil {
			return fmt.Errorf("add run delta: %w", err)
		}
	}
	for _, evt := range finishes {
		if err := s.repo.FinishRun(ctx, evt.RunUUID(), runStatus(evt), evt.TS, evt.Note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RunSink) Close(context.Context) error {
	return nil
}

func runStatus(evt progress.Event) progress.RunStatus {
	if evt.Note == progress.NoteAborted {
		return progress.RunAborted
	}
	return progress.RunDone
}

func failed(evt progress.Event) bool {
	switch evt.Outcome {
	case ingest.OutcomeFailed, ingest.OutcomeFailedPartial, ingest.OutcomeDropped:
		return true
	default:
		return false
	}
}
