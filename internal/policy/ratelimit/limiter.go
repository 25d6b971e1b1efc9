// Package ratelimit implements a per-host token bucket for media downloads.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	perHost      map[string]rate.Limit
}

// Config holds rate limiter configuration. PerHostRPS keys are host suffixes
// such as "sinaimg.cn".
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	PerHostRPS   map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	perHost := make(map[string]rate.Limit, len(cfg.PerHostRPS))
	for host, rps := range cfg.PerHostRPS {
		if rps > 0 {
			perHost[strings.ToLower(host)] = rate.Limit(rps)
		}
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		perHost:      perHost,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	limit := l.defaultRate
	for suffix, r := range l.perHost {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			limit = r
			break
		}
	}
	limiter := rate.NewLimiter(limit, l.defaultBurst)
	l.limiters[host] = limiter
	return limiter
}
