package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// Kind denotes what an Event reports.
type Kind string

// Supported event kinds.
const (
	KindRunStart  Kind = "RUN_START"
	KindRunDone   Kind = "RUN_DONE"
	KindItemStage Kind = "ITEM_STAGE"
	KindItemDone  Kind = "ITEM_DONE"
)

// NoteAborted marks a RUN_DONE event for a run that stopped early.
const NoteAborted = "aborted"

// Event captures a single ingestion milestone.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Kind Kind
	// Trigger names what started the run (cron, webhook, cli, backfill).
	Trigger string
	// Stage is the item's ingestion stage for ITEM_STAGE events.
	Stage    ingest.Stage
	Platform ingest.Platform
	// SourceURL is the normalized post URL. Never a resolved media URL, which
	// may embed credentials.
	SourceURL string
	// Outcome is set on ITEM_DONE.
	Outcome   ingest.Outcome
	ErrorKind ingest.ErrorKind
	// Bytes is the downloaded media size, when known.
	Bytes int64
	// Dur is the stage, item or run latency.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone:
	case KindItemStage:
		if e.Stage == "" {
			return errors.New("item stage event requires stage")
		}
	case KindItemDone:
		if e.Outcome == "" {
			return errors.New("item done event requires outcome")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
