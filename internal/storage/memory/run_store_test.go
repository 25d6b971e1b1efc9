package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRunStore(0)
	id := uuid.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, id, "cron", now))
	require.NoError(t, store.StartRun(ctx, id, "webhook", now.Add(time.Minute)))
	require.NoError(t, store.AddRunDelta(ctx, id, progress.RunDelta{
		Outcomes: map[ingest.Outcome]int{ingest.OutcomeIngested: 2},
		Bytes:    10,
	}))
	require.NoError(t, store.AddRunDelta(ctx, id, progress.RunDelta{
		Outcomes: map[ingest.Outcome]int{ingest.OutcomeIngested: 1, ingest.OutcomeFailed: 1},
		Bytes:    5,
	}))
	require.NoError(t, store.FinishRun(ctx, id, progress.RunDone, now.Add(time.Hour), ""))

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cron", run.Trigger)
	assert.Equal(t, progress.RunDone, run.Status)
	assert.Equal(t, 3, run.Outcomes[ingest.OutcomeIngested])
	assert.Equal(t, 1, run.Outcomes[ingest.OutcomeFailed])
	assert.Equal(t, int64(15), run.Bytes)
	require.NotNil(t, run.FinishedAt)

	run.Outcomes[ingest.OutcomeIngested] = 99
	again, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Outcomes[ingest.OutcomeIngested])

	_, err = store.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.ErrorIs(t, store.FinishRun(ctx, uuid.New(), progress.RunDone, now, ""), ingest.ErrNotFound)
}

func TestRunStoreEvictsOldestAndListsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRunStore(2)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, store.StartRun(ctx, id, "cli", time.Unix(int64(i), 0)))
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	_, err = store.GetRun(ctx, ids[0])
	require.ErrorIs(t, err, ingest.ErrNotFound)

	runs, err = store.ListRuns(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[1], runs[0].ID)
}
