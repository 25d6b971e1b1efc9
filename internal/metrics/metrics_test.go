package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://WX1.Sinaimg.cn/large/a.jpg", "wx1.sinaimg.cn"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := ingestItemsTotal
	Init()
	if ingestItemsTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObserveItemCounts(t *testing.T) {
	ObserveItem("rss", "ingested")
	before := testutil.ToFloat64(ingestItemsTotal.WithLabelValues("rss", "ingested"))
	ObserveItem("rss", "ingested")
	ObserveItem("rss", "skip-duplicate")
	after := testutil.ToFloat64(ingestItemsTotal.WithLabelValues("rss", "ingested"))
	if after-before != 1 {
		t.Fatalf("expected one increment, got %f", after-before)
	}
	if got := testutil.ToFloat64(ingestItemsTotal.WithLabelValues("rss", "skip-duplicate")); got < 1 {
		t.Fatalf("expected skip-duplicate to be counted, got %f", got)
	}
}

func TestObserveHelpersRecord(t *testing.T) {
	ObserveStage("downloading", 150*time.Millisecond)
	ObserveMediaBytes("https://pbs.twimg.com/media/a.jpg", 2048)
	ObserveMediaBytes("https://pbs.twimg.com/media/a.jpg", 0)
	ObserveTranslation("test-model", "success")
	ObserveRun("cron", false)
	ObserveError("downloading", "invalid_content")
	ObserveSourceEntry("lmsy-x", "kept")
	ObserveWebhookUpdate("accepted")
	ObserveRateLimitDelay("pbs.twimg.com", 200*time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()

	if got := testutil.ToFloat64(ingestMediaBytesTotal.WithLabelValues("pbs.twimg.com")); got < 2048 {
		t.Fatalf("expected media bytes to be recorded, got %f", got)
	}
	if got := testutil.CollectAndCount(ingestStageSeconds); got == 0 {
		t.Fatal("expected stage histogram to be observed")
	}
	if got := testutil.ToFloat64(activeWorkers); got != 0 {
		t.Fatalf("expected active workers to return to 0, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://t.me/lmsy", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
