package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var pollNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rfc822(t time.Time) string { return t.Format(time.RFC1123Z) }

func feedXML() string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>LMSY</title>
  <link>https://x.com/lmsy</link>
  <item>
    <title>Fresh with enclosure</title>
    <link>https://x.com/lmsy/status/1001?s=20</link>
    <guid>1001</guid>
    <pubDate>%s</pubDate>
    <description><![CDATA[<p>Hello <b>world</b></p>]]></description>
    <enclosure url="https://pbs.twimg.com/media/a.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>Fresh with inline image</title>
    <link>https://x.com/lmsy/status/1002</link>
    <pubDate>%s</pubDate>
    <description><![CDATA[<p>look</p><img src="/media/b.png"/>]]></description>
  </item>
  <item>
    <title>Too old</title>
    <link>https://x.com/lmsy/status/1000</link>
    <pubDate>%s</pubDate>
    <enclosure url="https://pbs.twimg.com/media/old.jpg" type="image/jpeg" length="100"/>
  </item>
</channel>
</rss>`, rfc822(pollNow.Add(-time.Hour)), rfc822(pollNow.Add(-23*time.Hour)), rfc822(pollNow.Add(-48*time.Hour)))
}

func mixedFeedXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>Mixed</title>
  <item>
    <title>Undated with media rss</title>
    <link>https://example.com/post/7</link>
    <guid>post-7</guid>
    <media:content url="https://example.com/v.mp4" type="video/mp4"/>
  </item>
  <item>
    <title>Text only</title>
    <link>https://example.com/post/8</link>
    <description>no media here</description>
  </item>
</channel>
</rss>`
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/twitter.xml", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML()))
	})
	mux.HandleFunc("/mixed.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(mixedFeedXML()))
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPollKeepsRecentEntriesWithMedia(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t)
	poller := New(Config{Sources: []Source{
		{Name: "Lookmhee Official", Platform: "twitter", URL: srv.URL + "/twitter.xml", Enabled: true},
	}}, srv.Client(), fixedClock{now: pollNow}, nil)

	candidates, errs := poller.Collect(context.Background())
	require.Empty(t, errs)
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, "https://x.com/lmsy/status/1001?s=20", first.SourceURL)
	assert.Equal(t, ingest.PlatformTwitter, first.Platform)
	assert.Equal(t, "1001", first.SourcePostID)
	assert.Equal(t, "https://pbs.twimg.com/media/a.jpg", first.RawMediaURL)
	assert.Equal(t, "Fresh with enclosure", first.RawCaption)
	assert.Equal(t, "Hello world", first.RawDescription)
	assert.Equal(t, []string{"Lookmhee Official"}, first.Tags)
	assert.Equal(t, pollNow.Add(-time.Hour).Format(time.RFC3339), first.RawEventDate)

	assert.Equal(t, "https://x.com/media/b.png", candidates[1].RawMediaURL)

	stats := poller.Stats()
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 1, stats.OutOfWindow)
	assert.Equal(t, 2, stats.Candidates)
}

func TestPollContinuesAfterSourceFailure(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t)
	poller := New(Config{Sources: []Source{
		{Name: "blocked", Platform: "weibo", URL: srv.URL + "/broken.xml", Enabled: true},
		{Name: "disabled", Platform: "weibo", URL: srv.URL + "/twitter.xml", Enabled: false},
		{Name: "mixed", Platform: "", URL: srv.URL + "/mixed.xml", Enabled: true},
	}}, srv.Client(), fixedClock{now: pollNow}, nil)

	candidates, errs := poller.Collect(context.Background())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "blocked")
	require.Len(t, candidates, 1)

	undated := candidates[0]
	assert.Equal(t, "https://example.com/v.mp4", undated.RawMediaURL)
	assert.Equal(t, ingest.PlatformRSS, undated.Platform)
	assert.Equal(t, "post-7", undated.SourcePostID)
	assert.Empty(t, undated.RawEventDate)

	stats := poller.Stats()
	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.NoMedia)
}

func TestPollStopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t)
	poller := New(Config{Sources: []Source{
		{Name: "a", Platform: "twitter", URL: srv.URL + "/twitter.xml", Enabled: true},
		{Name: "b", Platform: "twitter", URL: srv.URL + "/twitter.xml", Enabled: true},
	}}, srv.Client(), fixedClock{now: pollNow}, nil)

	seen := 0
	for _, err := range poller.Poll(context.Background()) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, poller.Stats().Sources)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", StripHTML("<p>a<br>b</p>\n\n<div>c</div>"))
	assert.Equal(t, "Tom & Jerry", StripHTML("Tom &amp; Jerry"))
	assert.Equal(t, "plain", StripHTML("  plain "))
	assert.Empty(t, StripHTML(""))
}
