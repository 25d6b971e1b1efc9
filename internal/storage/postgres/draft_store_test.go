package postgres

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

var recordColumnNames = []string{
	"id", "source_url", "source_platform", "source_post_id", "file_hash",
	"r2_key", "r2_media_url", "media_type", "content_type", "file_size",
	"title", "description", "event_date", "tags", "status",
	"ingestion_stage", "ai_translation_status", "ai_translation_model",
	"created_at", "updated_at", "published_at",
}

func newMockStore(t *testing.T) (*DraftStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewDraftStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func sampleRecord() ingest.StagedRecord {
	created := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	return ingest.StagedRecord{
		ID:                  "0190a6f1-0000-7000-8000-000000000001",
		SourceURL:           "https://x.com/lmsy/status/1?s=20",
		SourcePlatform:      ingest.PlatformTwitter,
		SourcePostID:        "1",
		FileHash:            "abc123",
		R2Key:               "draft/twitter/2024/03/07/abc123.jpg",
		R2MediaURL:          "https://cdn.lmsy.space/draft/twitter/2024/03/07/abc123.jpg",
		MediaType:           ingest.MediaImage,
		ContentType:         "image/jpeg",
		FileSize:            1024,
		Title:               ingest.Localized{ingest.LocaleEN: "hi", ingest.LocaleZH: "你好", ingest.LocaleTH: "สวัสดี"},
		Description:         ingest.Localized{},
		EventDate:           "2024-03-07",
		Tags:                []string{"twitter"},
		Status:              ingest.StatusDraft,
		IngestionStage:      ingest.StageComplete,
		AITranslationStatus: ingest.TranslationCompleted,
		AITranslationModel:  "anthropic/claude-3.5-sonnet",
		CreatedAt:           created,
		UpdatedAt:           created,
	}
}

func rowValues(rec ingest.StagedRecord) []any {
	title, _ := marshalLocalized(rec.Title)
	description, _ := marshalLocalized(rec.Description)
	return []any{
		rec.ID, rec.SourceURL, string(rec.SourcePlatform), rec.SourcePostID, rec.FileHash,
		rec.R2Key, rec.R2MediaURL, string(rec.MediaType), rec.ContentType, rec.FileSize,
		title, description, rec.EventDate, rec.Tags, string(rec.Status),
		string(rec.IngestionStage), string(rec.AITranslationStatus), rec.AITranslationModel,
		rec.CreatedAt, rec.UpdatedAt, rec.PublishedAt,
	}
}

func TestInsertStagedWritesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	eventDate := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO draft_items")).
		WithArgs(
			rec.ID, "https://x.com/lmsy/status/1", "twitter", nullable("1"), nullable("abc123"),
			nullable(rec.R2Key), nullable(rec.R2MediaURL), "image", nullable("image/jpeg"), int64(1024),
			pgxmock.AnyArg(), []byte(`{}`), eventDate, []string{"twitter"}, "draft",
			"complete", "completed", nullable("anthropic/claude-3.5-sonnet"),
			rec.CreatedAt, rec.UpdatedAt, (*time.Time)(nil),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(rec.ID))

	id, err := store.InsertStaged(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStagedMapsUniqueViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"draft_items_file_hash_key":  ingest.ErrDuplicateFileHash,
		"draft_items_source_url_key": ingest.ErrDuplicateSourceURL,
	}
	for constraint, want := range cases {
		t.Run(constraint, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t)
			mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO draft_items")).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraint})

			_, err := store.InsertStaged(context.Background(), sampleRecord())
			require.ErrorIs(t, err, want)
			assert.True(t, ingest.IsDuplicate(err))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInsertStagedRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	rec.Title = ingest.Localized{ingest.LocaleEN: "only"}
	_, err := store.InsertStaged(context.Background(), rec)
	require.Error(t, err)

	rec = sampleRecord()
	rec.EventDate = "March"
	_, err = store.InsertStaged(context.Background(), rec)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsQueries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("normalize_url(source_url) = normalize_url($1)")).
		WithArgs("https://weibo.com/1/abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE file_hash = $1")).
		WithArgs("deadbeef").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := store.ExistsBySourceURL(context.Background(), "https://WEIBO.com/1/abc?from=page")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ExistsByFileHash(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ExistsByFileHash(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, err := store.ExistsBySourceURL(context.Background(), "https://example.com/a")
	require.ErrorIs(t, err, ingest.ErrUnavailable)

	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("syntax error"))
	_, err = store.ExistsByFileHash(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ingest.ErrUnavailable)
}

func TestGetScansRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	rec.SourceURL = "https://x.com/lmsy/status/1"
	mock.ExpectQuery(regexp.QuoteMeta("FROM draft_items WHERE id = $1")).
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(rowValues(rec)...))

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	mock.ExpectQuery(regexp.QuoteMeta("FROM draft_items WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(recordColumnNames))
	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBuildsFilteredQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	rec.SourceURL = "https://x.com/lmsy/status/1"
	mock.ExpectQuery(regexp.QuoteMeta("WHERE source_platform = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT 10 OFFSET 20")).
		WithArgs("twitter", "draft").
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(rowValues(rec)...))

	got, err := store.List(context.Background(), ingest.ListFilter{
		Status:   ingest.StatusDraft,
		Platform: ingest.PlatformTwitter,
		Limit:    10,
		Offset:   20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTranslationFailures(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ai_translation_status IN ($1,$2) AND ingestion_stage = $3 ORDER BY created_at ASC LIMIT 50")).
		WithArgs("failed", "pending", "failed").
		WillReturnRows(pgxmock.NewRows(recordColumnNames))

	got, err := store.ListTranslationFailures(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregatesGroups(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status, ingestion_stage, ai_translation_status, source_platform")).
		WillReturnRows(pgxmock.NewRows([]string{"status", "ingestion_stage", "ai_translation_status", "source_platform", "count"}).
			AddRow("draft", "complete", "completed", "twitter", int64(3)).
			AddRow("draft", "failed", "failed", "rss", int64(2)).
			AddRow("published", "complete", "completed", "twitter", int64(1)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 5, stats.ByStatus[ingest.StatusDraft])
	assert.Equal(t, 4, stats.ByStage[ingest.StageComplete])
	assert.Equal(t, 2, stats.ByAI["failed"])
	assert.Equal(t, 4, stats.Platform[ingest.PlatformTwitter])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusPublishes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	rec.SourceURL = "https://x.com/lmsy/status/1"
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(rowValues(rec)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE draft_items SET status = $1, published_at = $2, updated_at = $3 WHERE id = $4 AND status = $5")).
		WithArgs("published", &at, at, rec.ID, "draft").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := store.SetStatus(context.Background(), rec.ID, ingest.StatusPublished, at)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPublished, updated.Status)
	require.NotNil(t, updated.PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	published := rec.CreatedAt
	rec.Status = ingest.StatusPublished
	rec.PublishedAt = &published
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(rowValues(rec)...))

	_, err := store.SetStatus(context.Background(), rec.ID, ingest.StatusDraft, time.Now())
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndUpdateTranslation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM draft_items WHERE id = $1")).
		WithArgs("a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM draft_items WHERE id = $1")).
		WithArgs("b").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE draft_items SET title = $1")).
		WithArgs(pgxmock.AnyArg(), []byte(`{}`), "complete", "completed", nullable("m"), pgxmock.AnyArg(), "a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Delete(context.Background(), "a"))
	require.ErrorIs(t, store.Delete(context.Background(), "b"), ingest.ErrNotFound)
	require.NoError(t, store.UpdateTranslation(context.Background(), ingest.TranslationUpdate{
		ID:        "a",
		Title:     ingest.Localized{ingest.LocaleEN: "hi", ingest.LocaleZH: "嗨", ingest.LocaleTH: "หวัดดี"},
		Stage:     ingest.StageComplete,
		Status:    ingest.TranslationCompleted,
		Model:     "m",
		UpdatedAt: time.Now(),
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDraftStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewDraftStoreWithPool(mock, "drafts; DROP TABLE x")
	require.Error(t, err)
	_, err = NewDraftStoreWithPool(nil, "")
	require.Error(t, err)
}
