package progress

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

// Run states.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunAborted RunStatus = "aborted"
)

// RunRecord summarizes one ingestion run for operators.
type RunRecord struct {
	ID         uuid.UUID              `json:"id"`
	Trigger    string                 `json:"trigger"`
	Status     RunStatus              `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Outcomes   map[ingest.Outcome]int `json:"outcomes"`
	Bytes      int64                  `json:"bytes"`
	Note       string                 `json:"note,omitempty"`
}

// RunDelta is a batch of item results folded into a run.
type RunDelta struct {
	Outcomes map[ingest.Outcome]int
	Bytes    int64
	At       time.Time
}

// RunRepository records run history.
type RunRepository interface {
	StartRun(ctx context.Context, id uuid.UUID, trigger string, at time.Time) error
	AddRunDelta(ctx context.Context, id uuid.UUID, delta RunDelta) error
	FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, at time.Time, note string) error
	GetRun(ctx context.Context, id uuid.UUID) (RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}
