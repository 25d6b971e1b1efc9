package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/storage/memory"
)

// ExampleProgressHandler_ListRuns shows how to serve the /v1/runs endpoint.
func ExampleProgressHandler_ListRuns() {
	ctx := context.Background()
	repo := memory.NewRunStore(10)
	runID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	start := time.Unix(0, 0).UTC()
	_ = repo.StartRun(ctx, runID, "cron", start)
	_ = repo.AddRunDelta(ctx, runID, progress.RunDelta{
		Outcomes: map[ingest.Outcome]int{ingest.OutcomeIngested: 3},
		At:       start,
	})
	_ = repo.FinishRun(ctx, runID, progress.RunDone, start.Add(1500*time.Millisecond), "")
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []runDTO `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	run := payload.Runs[0]
	fmt.Printf("runs: %d, status: %s, ingested: %d, duration: %dms\n",
		len(payload.Runs), run.Status, run.Outcomes["ingested"], run.DurationMS)
	// Output:
	// runs: 1, status: done, ingested: 3, duration: 1500ms
}
