package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/storage/memory"
)

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore(10)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, repo.StartRun(ctx, runID, "cron", started))
	require.NoError(t, repo.AddRunDelta(ctx, runID, progress.RunDelta{
		Outcomes: map[ingest.Outcome]int{ingest.OutcomeIngested: 2, ingest.OutcomeSkipDuplicate: 1},
		Bytes:    2048,
		At:       started,
	}))
	require.NoError(t, repo.FinishRun(ctx, runID, progress.RunDone, started.Add(3*time.Second), ""))
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, runID.String(), body.Runs[0].ID)
	require.Equal(t, 2, body.Runs[0].Outcomes["ingested"])
	require.EqualValues(t, 2048, body.Runs[0].Bytes)
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(10), zap.NewNop())

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(10), zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil), "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerListRunsInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(10), zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=-1", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerRepositoryFailure(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(failingRunRepo{err: errors.New("db down")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")

	id := uuid.New()
	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+id.String(), nil), id.String()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerWithoutRepository(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingRunRepo struct {
	err error
}

func (f failingRunRepo) StartRun(context.Context, uuid.UUID, string, time.Time) error { return f.err }

func (f failingRunRepo) AddRunDelta(context.Context, uuid.UUID, progress.RunDelta) error {
	return f.err
}

func (f failingRunRepo) FinishRun(context.Context, uuid.UUID, progress.RunStatus, time.Time, string) error {
	return f.err
}

func (f failingRunRepo) GetRun(context.Context, uuid.UUID) (progress.RunRecord, error) {
	return progress.RunRecord{}, f.err
}

func (f failingRunRepo) ListRuns(context.Context, int, int) ([]progress.RunRecord, error) {
	return nil, f.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
