// Package ingest defines the core types and ports shared across the ingestion pipeline.
package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Platform identifies where a candidate item was discovered.
type Platform string

// Supported source platforms.
const (
	PlatformRSS         Platform = "rss"
	PlatformTelegram    Platform = "telegram"
	PlatformTwitter     Platform = "twitter"
	PlatformInstagram   Platform = "instagram"
	PlatformWeibo       Platform = "weibo"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformYouTube     Platform = "youtube"
	PlatformTikTok      Platform = "tiktok"
	PlatformManual      Platform = "manual"
)

// MediaType is the coarse kind of a stored media object.
type MediaType string

// Media types persisted on staged records.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Locale is one of the archive's display languages.
type Locale string

// Supported locales.
const (
	LocaleEN Locale = "en"
	LocaleZH Locale = "zh"
	LocaleTH Locale = "th"
)

// AllLocales lists every locale a complete record carries.
var AllLocales = []Locale{LocaleEN, LocaleZH, LocaleTH}

// Localized maps a locale to text in that locale.
type Localized map[Locale]string

// Complete reports whether every locale has non-empty text.
func (l Localized) Complete() bool {
	for _, loc := range AllLocales {
		if l[loc] == "" {
			return false
		}
	}
	return true
}

// Status is the moderation state of a staged record.
type Status string

// Moderation states.
const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusPublished Status = "published"
)

// Stage tracks pipeline progress independently of moderation status.
type Stage string

// Ingestion stages.
const (
	StagePending     Stage = "pending"
	StageDownloading Stage = "downloading"
	StageTranslating Stage = "translating"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// TranslationStatus records the outcome of the translation call for a record.
type TranslationStatus string

// Translation bookkeeping values.
const (
	TranslationPending   TranslationStatus = "pending"
	TranslationCompleted TranslationStatus = "completed"
	TranslationFailed    TranslationStatus = "failed"
	TranslationSkipped   TranslationStatus = "skipped"
)

// Candidate is a normalized, not-yet-persisted item produced by a source adapter.
type Candidate struct {
	SourceURL      string   `json:"source_url"`
	Platform       Platform `json:"source_platform"`
	SourcePostID   string   `json:"source_post_id,omitempty"`
	RawMediaURL    string   `json:"raw_media_url,omitempty"`
	MediaRef       string   `json:"media_ref,omitempty"`
	RawCaption     string   `json:"raw_caption,omitempty"`
	RawDescription string   `json:"raw_description,omitempty"`
	RawEventDate   string   `json:"raw_event_date,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	SourceName     string   `json:"source_name,omitempty"`
}

// Validate checks the minimum a candidate needs to enter the pipeline.
func (c Candidate) Validate() error {
	if c.SourceURL == "" {
		return errors.New("source url is required")
	}
	if c.RawMediaURL == "" && c.MediaRef == "" {
		return errors.New("media url or media reference is required")
	}
	if c.Platform == "" {
		return errors.New("platform is required")
	}
	return nil
}

// StagedRecord is one row of the moderation queue.
type StagedRecord struct {
	ID                  string            `json:"id"`
	SourceURL           string            `json:"source_url"`
	SourcePlatform      Platform          `json:"source_platform"`
	SourcePostID        string            `json:"source_post_id,omitempty"`
	FileHash            string            `json:"file_hash,omitempty"`
	R2Key               string            `json:"r2_key,omitempty"`
	R2MediaURL          string            `json:"r2_media_url,omitempty"`
	MediaType           MediaType         `json:"media_type"`
	ContentType         string            `json:"content_type,omitempty"`
	FileSize            int64             `json:"file_size"`
	Title               Localized         `json:"title"`
	Description         Localized         `json:"description"`
	EventDate           string            `json:"event_date"`
	Tags                []string          `json:"tags"`
	Status              Status            `json:"status"`
	IngestionStage      Stage             `json:"ingestion_stage"`
	AITranslationStatus TranslationStatus `json:"ai_translation_status"`
	AITranslationModel  string            `json:"ai_translation_model,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	PublishedAt         *time.Time        `json:"published_at,omitempty"`
}

// Validate enforces the publish/timestamp and completeness invariants.
func (r StagedRecord) Validate() error {
	if r.SourceURL == "" {
		return errors.New("source url is required")
	}
	switch r.Status {
	case StatusPublished:
		if r.PublishedAt == nil {
			return errors.New("published record requires published_at")
		}
	case StatusDraft, StatusReady:
		if r.PublishedAt != nil {
			return fmt.Errorf("%s record must not carry published_at", r.Status)
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.IngestionStage == StageComplete {
		if r.R2MediaURL == "" || r.FileHash == "" {
			return errors.New("complete record requires media url and file hash")
		}
		if r.AITranslationStatus != TranslationCompleted || !r.Title.Complete() {
			return errors.New("complete record requires a completed translation of the title in every locale")
		}
	}
	return nil
}

// Media is the downloaded payload of a candidate.
type Media struct {
	Bytes       []byte
	ContentType string
	Ext         string
	Type        MediaType
	SourceURL   string
}

// FetchRequest captures what the media fetcher needs for one download.
type FetchRequest struct {
	URL      string
	Platform Platform
}

// QueueItem wraps a candidate waiting for a worker.
type QueueItem struct {
	Candidate Candidate
	Received  time.Time
	Origin    string
}

// StagedEvent is published after a record is inserted.
type StagedEvent struct {
	ID             string            `json:"id"`
	SourceURL      string            `json:"source_url"`
	Platform       Platform          `json:"source_platform"`
	FileHash       string            `json:"file_hash"`
	MediaURL       string            `json:"r2_media_url"`
	Stage          Stage             `json:"ingestion_stage"`
	TranslationRun TranslationStatus `json:"ai_translation_status"`
	StagedAt       time.Time         `json:"staged_at"`
}
