package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultKeyPrefix is the object key root for staged media.
const DefaultKeyPrefix = "draft"

const eventDateLayout = "2006-01-02"

// ObjectKey builds the deterministic storage key for a media object:
// {prefix}/{platform}/{YYYY}/{MM}/{DD}/{fileHash}.{ext}.
func ObjectKey(prefix string, platform Platform, eventDate string, fileHash string, ext string) (string, error) {
	if fileHash == "" {
		return "", fmt.Errorf("file hash is required")
	}
	day, err := time.Parse(eventDateLayout, eventDate)
	if err != nil {
		return "", fmt.Errorf("parse event date %q: %w", eventDate, err)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if platform == "" {
		platform = PlatformManual
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.%s",
		prefix, platform, day.Year(), int(day.Month()), day.Day(), fileHash, ext), nil
}

var eventDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	eventDateLayout,
	"2006/01/02",
	"2006.01.02",
	"02/01/2006",
}

// NormalizeEventDate converts a loosely formatted source date into YYYY-MM-DD.
// Unparseable or empty input falls back to the ingestion date.
func NormalizeEventDate(raw string, fallback time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC().Format(eventDateLayout)
		}
		for _, layout := range eventDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC().Format(eventDateLayout)
			}
		}
	}
	return fallback.UTC().Format(eventDateLayout)
}
