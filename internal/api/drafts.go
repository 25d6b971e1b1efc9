package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
)

const (
	defaultDraftLimit = 50
	maxDraftLimit     = 200
	storeTimeout      = 5 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type statusRequest struct {
	Status ingest.Status `json:"status" validate:"required,oneof=draft ready published"`
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultDraftLimit, maxDraftLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := ingest.ListFilter{
		Status:   ingest.Status(q.Get("status")),
		Stage:    ingest.Stage(q.Get("stage")),
		Platform: ingest.Platform(q.Get("platform")),
		Limit:    limit,
		Offset:   offset,
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	items, err := s.deps.Drafts.List(ctx, filter)
	if err != nil {
		s.logger.Error("list drafts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list drafts")
		return
	}
	if items == nil {
		items = []ingest.StagedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) draftStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	stats, err := s.deps.Drafts.Stats(ctx)
	if err != nil {
		s.logger.Error("draft stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	rec, err := s.deps.Drafts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "get draft", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// setDraftStatus moves a record through draft, ready and published. Invalid
// moves and publishing an incomplete record answer 409.
func (s *Server) setDraftStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store unavailable")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "status must be one of draft, ready, published")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	rec, err := s.deps.Drafts.SetStatus(ctx, chi.URLParam(r, "id"), req.Status, s.deps.Clock.Now().UTC())
	if err != nil {
		s.storeError(w, "set draft status", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// deleteDraft removes the row, then its stored object. Object removal is best
// effort; an orphaned object never blocks moderation.
func (s *Server) deleteDraft(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	rec, err := s.deps.Drafts.Get(ctx, id)
	if err != nil {
		s.storeError(w, "get draft", err)
		return
	}
	if err := s.deps.Drafts.Delete(ctx, id); err != nil {
		s.storeError(w, "delete draft", err)
		return
	}
	objectDeleted := false
	if s.deps.Blob != nil && rec.R2Key != "" {
		if err := s.deps.Blob.DeleteObject(ctx, rec.R2Key); err != nil {
			s.logger.Warn("draft object not deleted", zap.String("record_id", id), zap.String("key", rec.R2Key), zap.Error(err))
		} else {
			objectDeleted = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "objectDeleted": objectDeleted})
}

func (s *Server) backfillTranslations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	limit := s.cfg.Pipeline.BackfillSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxDraftLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}
	report, err := s.deps.Ingester.Backfill(context.WithoutCancel(r.Context()), limit)
	if err != nil {
		if errors.Is(err, pipeline.ErrTranslatorDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("translation backfill failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backfill failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, "draft not found")
	case errors.Is(err, ingest.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
