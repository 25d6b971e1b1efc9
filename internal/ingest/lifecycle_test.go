package ingest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeRecord() StagedRecord {
	return StagedRecord{
		ID:                  "rec-1",
		SourceURL:           "https://x.com/a/status/1",
		FileHash:            "abc",
		R2MediaURL:          "https://cdn.lmsy.space/draft/a.jpg",
		Title:               Localized{LocaleEN: "hi", LocaleZH: "你好", LocaleTH: "สวัสดี"},
		Status:              StatusDraft,
		IngestionStage:      StageComplete,
		AITranslationStatus: TranslationCompleted,
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StatusDraft, StatusReady))
	assert.True(t, CanTransition(StatusReady, StatusPublished))
	assert.True(t, CanTransition(StatusPublished, StatusReady))
	assert.False(t, CanTransition(StatusPublished, StatusDraft))
	assert.False(t, CanTransition(StatusDraft, StatusDraft))
	assert.False(t, CanTransition(Status("archived"), StatusDraft))
}

func TestApplyStatusMaintainsPublishedAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := ApplyStatus(completeRecord(), StatusPublished, now)
	require.NoError(t, err)
	require.NotNil(t, rec.PublishedAt)
	assert.Equal(t, now, *rec.PublishedAt)
	require.NoError(t, rec.Validate())

	rec, err = ApplyStatus(rec, StatusReady, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, rec.PublishedAt)
	require.NoError(t, rec.Validate())
}

func TestApplyStatusRejectsInvalid(t *testing.T) {
	t.Parallel()

	rec := completeRecord()
	rec.Status = StatusPublished
	_, err := ApplyStatus(rec, StatusDraft, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)

	partial := completeRecord()
	partial.IngestionStage = StageFailed
	_, err = ApplyStatus(partial, StatusPublished, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStagedRecordValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, completeRecord().Validate())

	missingLocale := completeRecord()
	missingLocale.Title = Localized{LocaleEN: "hi"}
	require.Error(t, missingLocale.Validate())

	partial := missingLocale
	partial.IngestionStage = StageFailed
	require.NoError(t, partial.Validate())

	untitled := completeRecord()
	untitled.Title = Localized{}
	untitled.AITranslationStatus = TranslationSkipped
	require.Error(t, untitled.Validate())

	for _, status := range []TranslationStatus{TranslationPending, TranslationFailed, TranslationSkipped} {
		sourceOnly := completeRecord()
		sourceOnly.AITranslationStatus = status
		require.Error(t, sourceOnly.Validate(), status)

		sourceOnly.Title = Localized{LocaleEN: "hi", LocaleZH: "", LocaleTH: ""}
		sourceOnly.IngestionStage = StageFailed
		require.NoError(t, sourceOnly.Validate(), status)
	}

	publishedNoTime := completeRecord()
	publishedNoTime.Status = StatusPublished
	require.Error(t, publishedNoTime.Validate())

	draftWithTime := completeRecord()
	now := time.Now()
	draftWithTime.PublishedAt = &now
	require.Error(t, draftWithTime.Validate())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindDuplicate, Classify(fmt.Errorf("insert: %w", ErrDuplicateFileHash)))
	assert.Equal(t, KindHotlink, Classify(ErrHotlinkRejected))
	assert.Equal(t, KindNetwork, Classify(fmt.Errorf("get: %w", ErrNetwork)))
	assert.Equal(t, KindInvalid, Classify(WrapItem(StageDownloading, PlatformWeibo, ErrInvalidContent)))
	assert.Equal(t, KindUnavailable, Classify(fmt.Errorf("%w: %w", ErrTranslationFailed, ErrUnavailable)))
	assert.Equal(t, KindInternal, Classify(errors.New("boom")))
	assert.Nil(t, WrapItem(StageDownloading, PlatformRSS, nil))

	var itemErr *ItemError
	require.ErrorAs(t, WrapItem(StageDownloading, PlatformWeibo, ErrHotlinkRejected), &itemErr)
	assert.Equal(t, KindHotlink, itemErr.Kind())
	assert.Contains(t, itemErr.Error(), "weibo/downloading")
}

func TestSummaryAdd(t *testing.T) {
	t.Parallel()

	var s Summary
	s.Add(Result{Outcome: OutcomeIngested})
	s.Add(Result{Outcome: OutcomeSkipDuplicate, Err: ErrDuplicateSourceURL})
	s.Add(Result{Outcome: OutcomeFailed, Err: ErrNetwork, Candidate: Candidate{SourceURL: "u1"}})
	s.Add(Result{Outcome: OutcomeFailedPartial, Err: ErrTranslationFailed, Candidate: Candidate{SourceURL: "u2"}})
	s.Add(Result{Outcome: OutcomeDropped})

	assert.Equal(t, 1, s.Ingested)
	assert.Equal(t, 1, s.SkippedDuplicate)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.FailedPartial)
	assert.Equal(t, 1, s.Dropped)
	assert.Len(t, s.Errors, 2)

	var total Summary
	total.Merge(s)
	total.Merge(Summary{Fetched: 4, Aborted: true})
	assert.Equal(t, 4, total.Fetched)
	assert.True(t, total.Aborted)
	assert.Equal(t, 1, total.Ingested)
}

func TestResultAborts(t *testing.T) {
	t.Parallel()

	assert.True(t, Result{Err: fmt.Errorf("exists: %w", ErrUnavailable)}.Aborts())
	assert.False(t, Result{Err: ErrNetwork}.Aborts())
	assert.False(t, Result{}.Aborts())
}
