package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// DraftStore is an in-memory moderation queue with the same uniqueness rules as draft_items.
type DraftStore struct {
	mu       sync.RWMutex
	records  map[string]ingest.StagedRecord
	bySource map[string]string
	byHash   map[string]string
}

var _ ingest.DraftStore = (*DraftStore)(nil)

// NewDraftStore creates an empty DraftStore.
func NewDraftStore() *DraftStore {
	return &DraftStore{
		records:  make(map[string]ingest.StagedRecord),
		bySource: make(map[string]string),
		byHash:   make(map[string]string),
	}
}

func sourceKey(raw string) string {
	if normalized, err := ingest.NormalizeSourceURL(raw); err == nil {
		return normalized
	}
	return raw
}

// ExistsBySourceURL reports whether a record with the normalized URL exists.
func (s *DraftStore) ExistsBySourceURL(_ context.Context, sourceURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySource[sourceKey(sourceURL)]
	return ok, nil
}

// ExistsByFileHash reports whether any record, in any status, carries fileHash.
func (s *DraftStore) ExistsByFileHash(_ context.Context, fileHash string) (bool, error) {
	if fileHash == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[fileHash]
	return ok, nil
}

// InsertStaged stores record, failing with a duplicate error when either unique key is taken.
func (s *DraftStore) InsertStaged(_ context.Context, record ingest.StagedRecord) (string, error) {
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	record.SourceURL = sourceKey(record.SourceURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySource[record.SourceURL]; ok {
		return "", ingest.ErrDuplicateSourceURL
	}
	if record.FileHash != "" {
		if _, ok := s.byHash[record.FileHash]; ok {
			return "", ingest.ErrDuplicateFileHash
		}
	}
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		record.ID = id.String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	s.records[record.ID] = cloneRecord(record)
	s.bySource[record.SourceURL] = record.ID
	if record.FileHash != "" {
		s.byHash[record.FileHash] = record.ID
	}
	return record.ID, nil
}

// Get returns the record with id.
func (s *DraftStore) Get(_ context.Context, id string) (ingest.StagedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return ingest.StagedRecord{}, ingest.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns records matching filter, newest first.
func (s *DraftStore) List(_ context.Context, filter ingest.ListFilter) ([]ingest.StagedRecord, error) {
	s.mu.RLock()
	out := make([]ingest.StagedRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Stage != "" && rec.IngestionStage != filter.Stage {
			continue
		}
		if filter.Platform != "" && rec.SourcePlatform != filter.Platform {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Stats counts records by status, stage, translation status, and platform.
func (s *DraftStore) Stats(_ context.Context) (ingest.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := ingest.Stats{
		Total:    len(s.records),
		ByStatus: make(map[ingest.Status]int),
		ByStage:  make(map[ingest.Stage]int),
		ByAI:     make(map[string]int),
		Platform: make(map[ingest.Platform]int),
	}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.ByStage[rec.IngestionStage]++
		stats.ByAI[string(rec.AITranslationStatus)]++
		stats.Platform[rec.SourcePlatform]++
	}
	return stats, nil
}

// SetStatus moves a record through the moderation lifecycle.
func (s *DraftStore) SetStatus(_ context.Context, id string, status ingest.Status, at time.Time) (ingest.StagedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ingest.StagedRecord{}, ingest.ErrNotFound
	}
	updated, err := ingest.ApplyStatus(rec, status, at)
	if err != nil {
		return ingest.StagedRecord{}, err
	}
	s.records[id] = updated
	return cloneRecord(updated), nil
}

// Delete removes a record and frees its unique keys.
func (s *DraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ingest.ErrNotFound
	}
	delete(s.records, id)
	delete(s.bySource, rec.SourceURL)
	if rec.FileHash != "" {
		delete(s.byHash, rec.FileHash)
	}
	return nil
}

// ListTranslationFailures returns failed-partial records still waiting for a
// translation, oldest first.
func (s *DraftStore) ListTranslationFailures(_ context.Context, limit int) ([]ingest.StagedRecord, error) {
	s.mu.RLock()
	var out []ingest.StagedRecord
	for _, rec := range s.records {
		if rec.IngestionStage != ingest.StageFailed {
			continue
		}
		if rec.AITranslationStatus == ingest.TranslationFailed || rec.AITranslationStatus == ingest.TranslationPending {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, 0, limit), nil
}

// UpdateTranslation overwrites localized text and translation bookkeeping.
func (s *DraftStore) UpdateTranslation(_ context.Context, update ingest.TranslationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[update.ID]
	if !ok {
		return ingest.ErrNotFound
	}
	rec.Title = maps.Clone(update.Title)
	rec.Description = maps.Clone(update.Description)
	rec.IngestionStage = update.Stage
	rec.AITranslationStatus = update.Status
	rec.AITranslationModel = update.Model
	rec.UpdatedAt = update.UpdatedAt
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid translation update: %w", err)
	}
	s.records[update.ID] = rec
	return nil
}

func cloneRecord(rec ingest.StagedRecord) ingest.StagedRecord {
	rec.Title = maps.Clone(rec.Title)
	rec.Description = maps.Clone(rec.Description)
	rec.Tags = slices.Clone(rec.Tags)
	if rec.PublishedAt != nil {
		at := *rec.PublishedAt
		rec.PublishedAt = &at
	}
	return rec
}
