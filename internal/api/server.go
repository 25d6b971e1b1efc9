// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/clock/system"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/idempotency"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/rss"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readinessTimeout      = 2 * time.Second
)

// Ingester runs candidates and translation backfills.
type Ingester interface {
	Run(ctx context.Context, trigger string, cands []ingest.Candidate) pipeline.Summary
	Backfill(ctx context.Context, limit int) (pipeline.BackfillReport, error)
}

// FeedPoller collects candidates from the configured feeds.
type FeedPoller interface {
	Collect(ctx context.Context) ([]ingest.Candidate, []error)
	Stats() rss.PollStats
}

// Enqueuer accepts webhook candidates for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, item ingest.QueueItem) error
}

// Deps are the collaborators behind the routes. Nil members disable the
// routes that need them with 503.
type Deps struct {
	Drafts   ingest.DraftStore
	Blob     ingest.BlobStore
	Runs     progress.RunRepository
	Ingester Ingester
	Poller   FeedPoller
	Queue    Enqueuer
	// Updates drops redelivered Telegram update ids.
	Updates *idempotency.Guard
	// Locks backs the cron run lock.
	Locks  idempotency.Store
	Clock  ingest.Clock
	Checks map[string]func(context.Context) error
}

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      config.Config
	logger   *zap.Logger
	progress *ProgressHandler
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("api"),
		progress: NewProgressHandler(deps.Runs, logger.Named("progress")),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Cron runs are bounded by the pipeline run budget, not the request timeout.
		r.With(s.cronAuth).Get("/cron/fetch-updates", s.fetchUpdates)
		r.With(s.cronAuth).Post("/cron/fetch-updates", s.fetchUpdates)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Get("/webhooks/telegram", s.telegramHealth)
			r.Post("/webhooks/telegram", s.telegramWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Route("/drafts", func(r chi.Router) {
				r.Get("/", s.listDrafts)
				r.Get("/stats", s.draftStats)
				r.Post("/backfill", s.backfillTranslations)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getDraft)
					r.Post("/status", s.setDraftStatus)
					r.Delete("/", s.deleteDraft)
				})
			})
			r.Get("/runs", s.progress.ListRuns)
			r.Get("/runs/{run_id}", s.progress.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := make(map[string]string)
	for name, check := range s.deps.Checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			// Query strings can carry the cron secret or API key.
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if !secretEqual(key, expected) {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
