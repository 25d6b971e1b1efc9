package ingest

import (
	"fmt"
	"time"
)

var allowedTransitions = map[Status][]Status{
	StatusDraft:     {StatusReady, StatusPublished},
	StatusReady:     {StatusDraft, StatusPublished},
	StatusPublished: {StatusReady},
}

// CanTransition reports whether moderation may move a record from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyStatus moves rec to status, keeping published_at consistent with it.
func ApplyStatus(rec StagedRecord, status Status, at time.Time) (StagedRecord, error) {
	if !CanTransition(rec.Status, status) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}
	if status == StatusPublished && rec.IngestionStage != StageComplete {
		return rec, fmt.Errorf("%w: record is still %s", ErrInvalidTransition, rec.IngestionStage)
	}
	rec.Status = status
	rec.UpdatedAt = at
	if status == StatusPublished {
		ts := at
		rec.PublishedAt = &ts
	} else {
		rec.PublishedAt = nil
	}
	return rec, nil
}
