// Package rss polls configured feeds and turns recent entries with media into candidates.
package rss

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
)

// DefaultUserAgent identifies the poller to feed hosts.
const DefaultUserAgent = "LMSY-Archive-Crawler/1.0"

// Source is one configured feed.
type Source struct {
	Name     string `mapstructure:"name"`
	Platform string `mapstructure:"platform"`
	URL      string `mapstructure:"url"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Config controls polling.
type Config struct {
	Sources   []Source
	Window    time.Duration
	Timeout   time.Duration
	UserAgent string
}

// PollStats summarises the last Poll once its sequence is drained.
type PollStats struct {
	Sources     int `json:"sources"`
	Failed      int `json:"failedSources"`
	Entries     int `json:"entries"`
	OutOfWindow int `json:"outOfWindow"`
	NoMedia     int `json:"noMedia"`
	Candidates  int `json:"candidates"`
}

// Poller fetches feeds with gofeed.
type Poller struct {
	cfg    Config
	client *http.Client
	clock  ingest.Clock
	logger *zap.Logger

	mu    sync.Mutex
	stats PollStats
}

// New builds a Poller. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, clock ingest.Clock, logger *zap.Logger) *Poller {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{cfg: cfg, client: client, clock: clock, logger: logger}
}

// Stats returns counters from the most recent Poll.
func (p *Poller) Stats() PollStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Poll lazily yields candidates from every enabled source. A failing source yields one
// error and polling moves on to the next source.
func (p *Poller) Poll(ctx context.Context) iter.Seq2[ingest.Candidate, error] {
	return func(yield func(ingest.Candidate, error) bool) {
		p.mu.Lock()
		p.stats = PollStats{}
		p.mu.Unlock()

		now := p.clock.Now()
		for _, src := range p.cfg.Sources {
			if !src.Enabled {
				continue
			}
			if ctx.Err() != nil {
				yield(ingest.Candidate{}, ctx.Err())
				return
			}
			p.count(func(s *PollStats) { s.Sources++ })

			feed, err := p.fetch(ctx, src)
			if err != nil {
				p.count(func(s *PollStats) { s.Failed++ })
				metrics.ObserveSourceEntry(src.Name, "source_error")
				p.logger.Warn("feed fetch failed", zap.String("source", src.Name), zap.Error(err))
				if !yield(ingest.Candidate{}, fmt.Errorf("source %s: %w", src.Name, err)) {
					return
				}
				continue
			}

			for _, item := range feed.Items {
				if item == nil {
					continue
				}
				p.count(func(s *PollStats) { s.Entries++ })
				if !p.inWindow(item, now) {
					p.count(func(s *PollStats) { s.OutOfWindow++ })
					metrics.ObserveSourceEntry(src.Name, "out_of_window")
					continue
				}
				candidate, ok := toCandidate(src, item)
				if !ok {
					p.count(func(s *PollStats) { s.NoMedia++ })
					metrics.ObserveSourceEntry(src.Name, "no_media")
					continue
				}
				p.count(func(s *PollStats) { s.Candidates++ })
				metrics.ObserveSourceEntry(src.Name, "candidate")
				if !yield(candidate, nil) {
					return
				}
			}
		}
	}
}

// Collect drains Poll into a slice, returning candidates and per-source errors.
func (p *Poller) Collect(ctx context.Context) ([]ingest.Candidate, []error) {
	var (
		out  []ingest.Candidate
		errs []error
	)
	for candidate, err := range p.Poll(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, candidate)
	}
	return out, errs
}

func (p *Poller) count(fn func(*PollStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Poller) fetch(ctx context.Context, src Source) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = p.client
	parser.UserAgent = p.cfg.UserAgent
	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}
	return feed, nil
}

// inWindow keeps entries newer than the window and entries without any date.
func (p *Poller) inWindow(item *gofeed.Item, now time.Time) bool {
	ts := item.PublishedParsed
	if ts == nil {
		ts = item.UpdatedParsed
	}
	if ts == nil {
		return true
	}
	return now.Sub(*ts) <= p.cfg.Window
}

func toCandidate(src Source, item *gofeed.Item) (ingest.Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" && isAbsoluteURL(item.GUID) {
		link = item.GUID
	}
	if link == "" {
		return ingest.Candidate{}, false
	}
	mediaURL := findMedia(item, link)
	if mediaURL == "" {
		return ingest.Candidate{}, false
	}

	platform := ingest.Platform(src.Platform)
	if platform == "" || platform == ingest.PlatformManual {
		if detected := ingest.DetectPlatform(link); detected != ingest.PlatformManual {
			platform = detected
		}
	}
	if platform == "" {
		platform = ingest.PlatformRSS
	}

	postID := ingest.ExtractPostID(platform, link)
	if postID == "" {
		postID = item.GUID
	}

	description := item.Description
	if strings.TrimSpace(description) == "" {
		description = item.Content
	}

	candidate := ingest.Candidate{
		SourceURL:      link,
		Platform:       platform,
		SourcePostID:   postID,
		RawMediaURL:    mediaURL,
		RawCaption:     StripHTML(item.Title),
		RawDescription: StripHTML(description),
		SourceName:     src.Name,
	}
	if item.PublishedParsed != nil {
		candidate.RawEventDate = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.UpdatedParsed != nil {
		candidate.RawEventDate = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	if src.Name != "" {
		candidate.Tags = []string{src.Name}
	}
	return candidate, true
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.IsAbs() && u.Host != ""
}

func resolveAgainst(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
