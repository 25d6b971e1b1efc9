// Package media downloads remote media for the ingestion pipeline using gocolly.
package media

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

const (
	// DefaultMaxBytes is the response size ceiling for one media object.
	DefaultMaxBytes int64 = 50 << 20
	// DefaultTimeout bounds one media download.
	DefaultTimeout = 60 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgents []string
	Timeout    time.Duration
	MaxBytes   int64
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements ingest.MediaFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Limiter
	baseCollector *colly.Collector
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// One byte over the ceiling lets an oversized body be told apart from an exact fit.
	c.MaxBodySize = int(cfg.MaxBytes + 1)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

type fetchState struct {
	status  int
	headers http.Header
	body    []byte
	err     error
}

// Fetch downloads request.URL with the platform's header profile.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.Media, error) {
	if request.URL == "" {
		return ingest.Media{}, fmt.Errorf("%w: empty media url", ingest.ErrInvalidContent)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return ingest.Media{}, fmt.Errorf("%w: %w", ingest.ErrNetwork, err)
		}
	}

	prof := profileFor(request.Platform, request.URL, f.cfg.UserAgents)
	state := &fetchState{}
	collector := f.buildCollector(prof, state)

	visitErr := f.runCollector(ctx, collector, request.URL)
	if ctx.Err() != nil {
		return ingest.Media{}, fmt.Errorf("%w: %w", ingest.ErrNetwork, ctx.Err())
	}
	if state.status >= 400 || (visitErr != nil && state.status > 0) {
		return ingest.Media{}, classifyStatus(state.status, prof.hotlink, request.URL)
	}
	if visitErr != nil {
		return ingest.Media{}, fmt.Errorf("%w: get %s: %w", ingest.ErrNetwork, request.URL, visitErr)
	}
	return f.toMedia(request.URL, state)
}

func (f *Fetcher) buildCollector(prof profile, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range prof.headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.headers = r.Headers.Clone()
		state.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	// Bind the transfer itself to ctx so cancellation closes the connection
	// instead of leaving the visit running in the background.
	colly.StdlibContext(ctx)(collector)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) toMedia(url string, state *fetchState) (ingest.Media, error) {
	if state.err != nil {
		return ingest.Media{}, fmt.Errorf("%w: get %s: %w", ingest.ErrNetwork, url, state.err)
	}
	if declared := state.headers.Get("Content-Length"); declared != "" {
		if n, err := strconv.ParseInt(declared, 10, 64); err == nil && n > f.cfg.MaxBytes {
			return ingest.Media{}, fmt.Errorf("%w: declared size %d exceeds %d bytes", ingest.ErrInvalidContent, n, f.cfg.MaxBytes)
		}
	}
	if int64(len(state.body)) > f.cfg.MaxBytes {
		return ingest.Media{}, fmt.Errorf("%w: body exceeds %d bytes", ingest.ErrInvalidContent, f.cfg.MaxBytes)
	}
	if len(state.body) == 0 {
		return ingest.Media{}, fmt.Errorf("%w: empty body from %s", ingest.ErrInvalidContent, url)
	}
	contentType, ok := resolveContentType(state.headers.Get("Content-Type"), state.body, url)
	if !ok {
		return ingest.Media{}, fmt.Errorf("%w: unsupported content type %q", ingest.ErrInvalidContent, contentType)
	}
	ext, kind := describe(contentType, url)
	return ingest.Media{
		Bytes:       state.body,
		ContentType: contentType,
		Ext:         ext,
		Type:        kind,
		SourceURL:   url,
	}, nil
}

func classifyStatus(status int, hotlinkProfile bool, url string) error {
	if status == http.StatusForbidden && hotlinkProfile {
		return fmt.Errorf("%w: %s returned 403", ingest.ErrHotlinkRejected, url)
	}
	return fmt.Errorf("%w: %s returned %d", ingest.ErrNetwork, url, status)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
