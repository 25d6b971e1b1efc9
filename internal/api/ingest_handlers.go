package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/idempotency"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/rss"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/telegram"
)

const (
	cronLockKey           = "cron:fetch-updates"
	maxWebhookBody        = 1 << 20
	defaultEnqueueTimeout = 2 * time.Second
	telegramSecretHeader  = "X-Telegram-Bot-Api-Secret-Token"
)

// fetchResponse is the cron run report.
type fetchResponse struct {
	Success bool `json:"success"`
	pipeline.Summary
	Sources rss.PollStats `json:"sources"`
}

// cronAuth accepts "Authorization: Bearer {secret}" or ?secret=. With no
// secret configured the endpoint is open, for local development.
func (s *Server) cronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Cron.Secret
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got == r.Header.Get("Authorization") {
			got = r.URL.Query().Get("secret")
		}
		if !secretEqual(got, want) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fetchUpdates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil || s.deps.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	// The run outlives a disconnecting caller; the pipeline budget bounds it.
	ctx := context.WithoutCancel(r.Context())

	if s.deps.Locks != nil {
		lock, err := idempotency.NewLock(s.deps.Locks, cronLockKey, s.cfg.Cron.LockTTL)
		if err != nil {
			s.logger.Error("cron lock setup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lock unavailable")
			return
		}
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			s.logger.Error("cron lock acquire failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "lock unavailable")
			return
		}
		if !acquired {
			writeError(w, http.StatusConflict, "a fetch run is already in progress")
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				s.logger.Warn("cron lock release failed", zap.Error(err))
			}
		}()
	}

	cands, sourceErrs := s.deps.Poller.Collect(ctx)
	summary := s.deps.Ingester.Run(ctx, pipeline.TriggerCron, cands)
	resp := fetchResponse{Success: true, Summary: summary, Sources: s.deps.Poller.Stats()}
	if len(sourceErrs) > 0 {
		errs := make([]string, 0, len(sourceErrs)+len(summary.Errors))
		for _, err := range sourceErrs {
			errs = append(errs, err.Error())
		}
		resp.Errors = append(errs, summary.Errors...)
	}
	s.logger.Info("cron fetch finished",
		zap.String("request_id", requestID(r.Context())),
		zap.String("run_id", summary.RunID.String()),
		zap.Int("sources", resp.Sources.Sources),
		zap.Int("source_failures", resp.Sources.Failed),
		zap.Int("candidates", len(cands)),
		zap.Int("ingested", summary.Ingested),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) telegramHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"webhook": "telegram",
		"ready":   s.deps.Queue != nil,
	})
}

// telegramWebhook queues media updates and answers at once. A redelivered
// update id is acknowledged without queueing. When the queue cannot take an
// update its id is forgotten and 503 asks Telegram to redeliver.
func (s *Server) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	if want := s.cfg.Telegram.SecretToken; want != "" {
		if !secretEqual(r.Header.Get(telegramSecretHeader), want) {
			metrics.ObserveWebhookUpdate("unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook queue is not configured")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "unreadable body"})
		return
	}
	updates, err := telegram.Decode(raw)
	if err != nil {
		metrics.ObserveWebhookUpdate("malformed")
		s.logger.Warn("malformed telegram payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	timeout := s.cfg.Telegram.EnqueueTimeout
	if timeout <= 0 {
		timeout = defaultEnqueueTimeout
	}
	accepted, rejected := 0, 0
	for _, u := range updates {
		updateID := strconv.FormatInt(u.UpdateID, 10)
		if s.seen(r.Context(), updateID) {
			metrics.ObserveWebhookUpdate("duplicate")
			continue
		}
		cand, ok := telegram.ToCandidate(u)
		if !ok {
			metrics.ObserveWebhookUpdate("no_media")
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		err := s.deps.Queue.Enqueue(ctx, ingest.QueueItem{
			Candidate: cand,
			Received:  s.deps.Clock.Now(),
			Origin:    "telegram",
		})
		cancel()
		if err != nil {
			rejected++
			metrics.ObserveWebhookUpdate("queue_full")
			s.logger.Warn("telegram update not queued", zap.String("update_id", updateID), zap.Error(err))
			s.forget(updateID)
			continue
		}
		accepted++
		metrics.ObserveWebhookUpdate("accepted")
	}

	if rejected > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "accepted": accepted, "rejected": rejected})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": accepted})
}

// seen marks updateID and reports whether it was already processed. Guard
// errors fail open; the pipeline's own dedup still holds.
func (s *Server) seen(ctx context.Context, updateID string) bool {
	if s.deps.Updates == nil {
		return false
	}
	dup, err := s.deps.Updates.CheckAndMark(ctx, updateID)
	if err != nil {
		s.logger.Warn("update idempotency check failed", zap.String("update_id", updateID), zap.Error(err))
		return false
	}
	return dup
}

func (s *Server) forget(updateID string) {
	if s.deps.Updates == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.deps.Updates.Forget(ctx, updateID); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("forget update id failed", zap.String("update_id", updateID), zap.Error(err))
	}
}
