package ingest

import (
	"context"
	"io"
	"time"
)

// DraftStore persists staged records. InsertStaged is the orchestrator's only
// write; unique violations surface as ErrDuplicateSourceURL or ErrDuplicateFileHash.
type DraftStore interface {
	ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)
	ExistsByFileHash(ctx context.Context, fileHash string) (bool, error)
	InsertStaged(ctx context.Context, record StagedRecord) (string, error)
	Get(ctx context.Context, id string) (StagedRecord, error)
	List(ctx context.Context, filter ListFilter) ([]StagedRecord, error)
	Stats(ctx context.Context) (Stats, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) (StagedRecord, error)
	Delete(ctx context.Context, id string) error
	ListTranslationFailures(ctx context.Context, limit int) ([]StagedRecord, error)
	UpdateTranslation(ctx context.Context, update TranslationUpdate) error
}

// ListFilter narrows moderation queue listings.
type ListFilter struct {
	Status   Status
	Stage    Stage
	Platform Platform
	Limit    int
	Offset   int
}

// Stats counts records by moderation status and ingestion stage.
type Stats struct {
	Total    int              `json:"total"`
	ByStatus map[Status]int   `json:"by_status"`
	ByStage  map[Stage]int    `json:"by_stage"`
	ByAI     map[string]int   `json:"by_ai_translation_status"`
	Platform map[Platform]int `json:"by_platform"`
}

// TranslationUpdate backfills translations on an already staged record.
type TranslationUpdate struct {
	ID          string
	Title       Localized
	Description Localized
	Stage       Stage
	Status      TranslationStatus
	Model       string
	UpdatedAt   time.Time
}

// BlobStore writes media objects and returns their public URL.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// MediaFetcher downloads a remote media resource.
type MediaFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Media, error)
}

// MediaResolver turns a platform-specific media reference into a fetchable URL.
type MediaResolver interface {
	Resolve(ctx context.Context, candidate Candidate) (string, error)
}

// Translator produces locale text for a source string.
type Translator interface {
	Translate(ctx context.Context, text string, hint Locale, targets []Locale) (Localized, error)
	Model() string
}

// Publisher pushes staged events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for webhook candidates.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
