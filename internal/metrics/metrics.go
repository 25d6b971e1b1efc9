// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestItemsTotal           *prometheus.CounterVec
	ingestErrorsTotal          *prometheus.CounterVec
	ingestStageSeconds         *prometheus.HistogramVec
	ingestMediaBytesTotal      *prometheus.CounterVec
	ingestRunsTotal            *prometheus.CounterVec
	translationRequestsTotal   *prometheus.CounterVec
	sourceEntriesTotal         *prometheus.CounterVec
	webhookUpdatesTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_ingest_items_total",
				Help: "Candidate items processed, labeled by platform and terminal outcome.",
			},
			[]string{"platform", "outcome"},
		)

		ingestErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_ingest_errors_total",
				Help: "Per-item failures, labeled by stage and error kind.",
			},
			[]string{"stage", "kind"},
		)

		ingestStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lmsy_ingest_stage_duration_seconds",
				Help:    "Time spent in each ingestion stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		ingestMediaBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_ingest_media_bytes_total",
				Help: "Bytes of media downloaded, labeled by media host.",
			},
			[]string{"site"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_ingest_runs_total",
				Help: "Ingestion runs, labeled by trigger and whether they aborted early.",
			},
			[]string{"trigger", "aborted"},
		)

		translationRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_translation_requests_total",
				Help: "Upstream translation calls, labeled by model and result.",
			},
			[]string{"model", "result"},
		)

		sourceEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_source_entries_total",
				Help: "Feed entries seen by source adapters, labeled by source and disposition.",
			},
			[]string{"source", "disposition"},
		)

		webhookUpdatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsy_webhook_updates_total",
				Help: "Telegram updates received, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lmsy_active_workers",
				Help: "Number of workers currently processing a candidate.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lmsy_rate_limit_delay_seconds",
				Help:    "Histogram of per-host media fetch rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one candidate reaching a terminal outcome.
func ObserveItem(platform, outcome string) {
	Init()
	ingestItemsTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveError counts a classified per-item failure.
func ObserveError(stage, kind string) {
	Init()
	ingestErrorsTotal.WithLabelValues(stage, kind).Inc()
}

// ObserveStage records how long an item spent in a stage.
func ObserveStage(stage string, d time.Duration) {
	Init()
	ingestStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveMediaBytes adds downloaded bytes for the media host.
func ObserveMediaBytes(mediaURL string, n int) {
	Init()
	if n > 0 {
		ingestMediaBytesTotal.WithLabelValues(SanitizeSite(mediaURL)).Add(float64(n))
	}
}

// ObserveRun counts one finished ingestion run.
func ObserveRun(trigger string, aborted bool) {
	Init()
	ingestRunsTotal.WithLabelValues(trigger, strconv.FormatBool(aborted)).Inc()
}

// ObserveTranslation counts an upstream translation call.
func ObserveTranslation(model, result string) {
	Init()
	translationRequestsTotal.WithLabelValues(model, result).Inc()
}

// ObserveSourceEntry counts a feed entry by disposition (kept, out_of_window, no_media, error).
func ObserveSourceEntry(source, disposition string) {
	Init()
	sourceEntriesTotal.WithLabelValues(source, disposition).Inc()
}

// ObserveWebhookUpdate counts a Telegram update by result.
func ObserveWebhookUpdate(result string) {
	Init()
	webhookUpdatesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}
