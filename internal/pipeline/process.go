package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/logging"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/translate"
)

const titleFallbackRunes = 80

var errNoSourceText = errors.New("post has no text to translate")

// item is the mutable state of one candidate while it moves through stages.
type item struct {
	run        [16]byte
	cand       ingest.Candidate
	stage      ingest.Stage
	stageStart time.Time
	bytes      int64
}

func (it *item) result(outcome ingest.Outcome, err error) ingest.Result {
	return ingest.Result{
		Candidate: it.cand,
		Outcome:   outcome,
		Stage:     it.stage,
		Err:       ingest.WrapItem(it.stage, it.cand.Platform, redact(err)),
	}
}

func (it *item) fail(err error) ingest.Result {
	return it.result(ingest.OutcomeFailed, err)
}

func (it *item) skip(err error) ingest.Result {
	return it.result(ingest.OutcomeSkipDuplicate, err)
}

func (p *Pipeline) process(ctx context.Context, run [16]byte, cand ingest.Candidate) ingest.Result {
	started := time.Now()
	if cand.Platform == "" && cand.SourceURL != "" {
		cand.Platform = ingest.DetectPlatform(cand.SourceURL)
	}
	ctx, span := p.tracer.Start(ctx, "ingest.item", trace.WithAttributes(
		attribute.String("lmsy.platform", string(cand.Platform)),
	))
	defer span.End()

	it := &item{run: run, cand: cand, stage: ingest.StagePending, stageStart: started}
	res := p.advance(ctx, it)
	p.finish(span, it, res, time.Since(started))
	return res
}

// advance walks it through the stages. Existence checks run before any byte
// is downloaded or written; InsertStaged runs last so a failed item leaves no row.
func (p *Pipeline) advance(ctx context.Context, it *item) ingest.Result {
	if err := it.cand.Validate(); err != nil {
		return it.fail(fmt.Errorf("%w: %w", ingest.ErrInvalidContent, err))
	}
	normalized, err := ingest.NormalizeSourceURL(it.cand.SourceURL)
	if err != nil {
		return it.fail(fmt.Errorf("%w: %w", ingest.ErrInvalidContent, err))
	}
	it.cand.SourceURL = normalized
	if it.cand.SourcePostID == "" {
		it.cand.SourcePostID = ingest.ExtractPostID(it.cand.Platform, normalized)
	}

	exists, err := p.exists(ctx, p.deps.Store.ExistsBySourceURL, normalized)
	if err != nil {
		return it.fail(fmt.Errorf("check source url: %w", err))
	}
	if exists {
		return it.skip(ingest.ErrDuplicateSourceURL)
	}

	p.enter(it, ingest.StageDownloading)
	media, err := p.download(ctx, it)
	if err != nil {
		return it.fail(err)
	}
	hash, err := p.deps.Hasher.Hash(media.Bytes)
	if err != nil {
		return it.fail(fmt.Errorf("hash media: %w", err))
	}
	exists, err = p.exists(ctx, p.deps.Store.ExistsByFileHash, hash)
	if err != nil {
		return it.fail(fmt.Errorf("check file hash: %w", err))
	}
	if exists {
		return it.skip(ingest.ErrDuplicateFileHash)
	}

	now := p.deps.Clock.Now()
	eventDate := ingest.NormalizeEventDate(it.cand.RawEventDate, now)
	key, err := ingest.ObjectKey(p.cfg.KeyPrefix, it.cand.Platform, eventDate, hash, media.Ext)
	if err != nil {
		return it.fail(fmt.Errorf("%w: %w", ingest.ErrInvalidContent, err))
	}
	mediaURL, err := p.put(ctx, key, media)
	if err != nil {
		return it.fail(fmt.Errorf("store media: %w", err))
	}

	p.enter(it, ingest.StageTranslating)
	text := p.translate(ctx, it.cand)

	id, err := p.deps.IDs.NewID()
	if err != nil {
		p.cleanup(ctx, key, hash)
		return it.fail(fmt.Errorf("generate record id: %w", err))
	}
	rec := ingest.StagedRecord{
		ID:                  id,
		SourceURL:           normalized,
		SourcePlatform:      it.cand.Platform,
		SourcePostID:        it.cand.SourcePostID,
		FileHash:            hash,
		R2Key:               key,
		R2MediaURL:          mediaURL,
		MediaType:           media.Type,
		ContentType:         media.ContentType,
		FileSize:            int64(len(media.Bytes)),
		Title:               text.title,
		Description:         text.description,
		EventDate:           eventDate,
		Tags:                normalizeTags(it.cand.Tags),
		Status:              ingest.StatusDraft,
		IngestionStage:      text.stage(),
		AITranslationStatus: text.status,
		AITranslationModel:  text.model,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	sctx, cancel := p.stageCtx(ctx)
	recordID, err := p.deps.Store.InsertStaged(sctx, rec)
	cancel()
	if err != nil {
		if ingest.IsDuplicate(err) {
			// Lost a race with a concurrent insert of the same post or bytes.
			// cleanup leaves the object alone when the winner owns this hash.
			p.cleanup(ctx, key, hash)
			return it.skip(err)
		}
		p.cleanup(ctx, key, hash)
		return it.fail(fmt.Errorf("insert staged record: %w", err))
	}
	rec.ID = recordID
	p.publish(ctx, rec)

	p.enter(it, rec.IngestionStage)
	res := ingest.Result{Candidate: it.cand, Outcome: ingest.OutcomeIngested, Stage: it.stage, RecordID: recordID}
	if text.err != nil {
		res.Outcome = ingest.OutcomeFailedPartial
		res.Err = ingest.WrapItem(ingest.StageTranslating, it.cand.Platform, text.err)
	}
	return res
}

func (p *Pipeline) exists(ctx context.Context, check func(context.Context, string) (bool, error), value string) (bool, error) {
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	return check(sctx, value)
}

// download resolves platform media references and fetches the bytes. Resolved
// URLs may carry credentials, so errors are redacted and the URL is never logged.
func (p *Pipeline) download(ctx context.Context, it *item) (ingest.Media, error) {
	mediaURL := it.cand.RawMediaURL
	if resolver, ok := p.deps.Resolvers[it.cand.Platform]; ok && resolver != nil {
		sctx, cancel := p.stageCtx(ctx)
		resolved, err := resolver.Resolve(sctx, it.cand)
		cancel()
		if err != nil {
			return ingest.Media{}, redact(fmt.Errorf("resolve media: %w", err))
		}
		mediaURL = resolved
	}
	if mediaURL == "" {
		return ingest.Media{}, fmt.Errorf("%w: no fetchable media url", ingest.ErrInvalidContent)
	}

	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	media, err := p.deps.Fetcher.Fetch(sctx, ingest.FetchRequest{URL: mediaURL, Platform: it.cand.Platform})
	if err != nil {
		return ingest.Media{}, redact(fmt.Errorf("fetch media: %w", err))
	}
	if len(media.Bytes) == 0 {
		return ingest.Media{}, fmt.Errorf("%w: empty media body", ingest.ErrInvalidContent)
	}
	it.bytes = int64(len(media.Bytes))
	metrics.ObserveMediaBytes(mediaURL, len(media.Bytes))
	return media, nil
}

func (p *Pipeline) put(ctx context.Context, key string, media ingest.Media) (string, error) {
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	contentType := media.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return p.deps.Blob.PutObject(sctx, key, contentType, bytes.NewReader(media.Bytes))
}

// cleanup removes an object written for an item that never got its row. A
// record already holding the same hash owns the key, so it is left alone.
func (p *Pipeline) cleanup(ctx context.Context, key, hash string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if taken, err := p.deps.Store.ExistsByFileHash(cctx, hash); err == nil && taken {
		return
	}
	if err := p.deps.Blob.DeleteObject(cctx, key); err != nil {
		p.logger.Warn("orphaned media cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, rec ingest.StagedRecord) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	evt := ingest.StagedEvent{
		ID:             rec.ID,
		SourceURL:      rec.SourceURL,
		Platform:       rec.SourcePlatform,
		FileHash:       rec.FileHash,
		MediaURL:       rec.R2MediaURL,
		Stage:          rec.IngestionStage,
		TranslationRun: rec.AITranslationStatus,
		StagedAt:       rec.CreatedAt,
	}
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	if _, err := p.deps.Publisher.Publish(sctx, p.cfg.Topic, evt); err != nil {
		p.logger.Warn("publish staged event failed",
			zap.String("record_id", rec.ID),
			zap.String("topic", p.cfg.Topic),
			zap.Error(err),
		)
	}
}

// enter closes the current stage's timer and reports the next stage.
func (p *Pipeline) enter(it *item, stage ingest.Stage) {
	now := time.Now()
	metrics.ObserveStage(string(it.stage), now.Sub(it.stageStart))
	it.stage, it.stageStart = stage, now
	p.emit(progress.Event{
		RunID:     it.run,
		Kind:      progress.KindItemStage,
		Stage:     stage,
		Platform:  it.cand.Platform,
		SourceURL: it.cand.SourceURL,
		Bytes:     it.bytes,
	})
}

func (p *Pipeline) finish(span trace.Span, it *item, res ingest.Result, elapsed time.Duration) {
	if it.stage != ingest.StageComplete && it.stage != ingest.StageFailed {
		metrics.ObserveStage(string(it.stage), time.Since(it.stageStart))
	}
	metrics.ObserveItem(string(it.cand.Platform), string(res.Outcome))
	kind := ingest.Classify(res.Err)
	span.SetAttributes(
		attribute.String("lmsy.outcome", string(res.Outcome)),
		attribute.String("lmsy.stage", string(it.stage)),
	)

	fields := []zap.Field{
		zap.String("source_url", it.cand.SourceURL),
		zap.String("platform", string(it.cand.Platform)),
		zap.String("stage", string(it.stage)),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", elapsed),
	}
	if res.RecordID != "" {
		fields = append(fields, zap.String("record_id", res.RecordID))
	}
	switch res.Outcome {
	case ingest.OutcomeFailed, ingest.OutcomeFailedPartial:
		metrics.ObserveError(string(it.stage), string(kind))
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(kind))
		p.logger.Warn("candidate not fully ingested",
			append(fields, zap.String("error_kind", string(kind)), zap.Error(res.Err))...)
	case ingest.OutcomeSkipDuplicate:
		p.logger.Debug("candidate already staged", fields...)
	default:
		p.logger.Info("candidate staged", fields...)
	}

	p.emit(progress.Event{
		RunID:     it.run,
		Kind:      progress.KindItemDone,
		Stage:     it.stage,
		Platform:  it.cand.Platform,
		SourceURL: it.cand.SourceURL,
		Outcome:   res.Outcome,
		ErrorKind: kind,
		Bytes:     it.bytes,
		Dur:       elapsed,
	})
}

// texts is the localized content destined for a record.
type texts struct {
	title       ingest.Localized
	description ingest.Localized
	status      ingest.TranslationStatus
	model       string
	err         error
}

func (t texts) stage() ingest.Stage {
	if t.status == ingest.TranslationCompleted {
		return ingest.StageComplete
	}
	return ingest.StageFailed
}

// translate never fails the item. Anything short of a full translation keeps
// the source text, stages the record as failed, and reports failed-partial:
// no translator leaves it pending for backfill, an upstream error marks it
// failed for backfill, and a post with no text at all is skipped for good.
func (p *Pipeline) translate(ctx context.Context, cand ingest.Candidate) texts {
	title, desc := sourceText(cand)
	titleHint, descHint := translate.DetectLocale(title), translate.DetectLocale(desc)
	partial := func(status ingest.TranslationStatus, model string, err error) texts {
		if !errors.Is(err, ingest.ErrTranslationFailed) {
			err = fmt.Errorf("%w: %w", ingest.ErrTranslationFailed, err)
		}
		return texts{
			title:       sourceOnly(title, titleHint),
			description: sourceOnly(desc, descHint),
			status:      status,
			model:       model,
			err:         err,
		}
	}
	if title == "" && desc == "" {
		return partial(ingest.TranslationSkipped, "", errNoSourceText)
	}
	if p.deps.Translator == nil {
		return partial(ingest.TranslationPending, "", ErrTranslatorDisabled)
	}

	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	model := p.deps.Translator.Model()
	titleOut, descOut, err := p.translateFields(sctx, title, desc, titleHint, descHint)
	if err != nil {
		return partial(ingest.TranslationFailed, model, err)
	}
	return texts{title: titleOut, description: descOut, status: ingest.TranslationCompleted, model: model}
}

type fieldTranslator interface {
	TranslateFields(ctx context.Context, title, description string, titleHint, descHint ingest.Locale) (ingest.Localized, ingest.Localized, error)
}

// translateFields translates both fields and insists the title comes back in
// every locale.
func (p *Pipeline) translateFields(ctx context.Context, title, desc string, titleHint, descHint ingest.Locale) (ingest.Localized, ingest.Localized, error) {
	var titleOut, descOut ingest.Localized
	var err error
	if ft, ok := p.deps.Translator.(fieldTranslator); ok {
		titleOut, descOut, err = ft.TranslateFields(ctx, title, desc, titleHint, descHint)
	} else {
		titleOut, err = p.deps.Translator.Translate(ctx, title, titleHint, ingest.AllLocales)
		if err == nil {
			descOut, err = p.deps.Translator.Translate(ctx, desc, descHint, ingest.AllLocales)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if !titleOut.Complete() {
		return nil, nil, fmt.Errorf("%w: title is missing a locale", ingest.ErrTranslationFailed)
	}
	return titleOut, descOut, nil
}

// sourceText picks the title and description to translate. Posts without a
// caption borrow the first line of their description as the title.
func sourceText(cand ingest.Candidate) (string, string) {
	title := strings.TrimSpace(cand.RawCaption)
	desc := strings.TrimSpace(cand.RawDescription)
	if title == "" && desc != "" {
		title = headline(desc)
	}
	return title, desc
}

func headline(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= titleFallbackRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:titleFallbackRunes])) + "…"
}

func sourceOnly(text string, hint ingest.Locale) ingest.Localized {
	out := make(ingest.Localized, len(ingest.AllLocales))
	for _, loc := range ingest.AllLocales {
		out[loc] = ""
	}
	if text != "" {
		out[hint] = text
	}
	return out
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// redactedError masks bot tokens in err's message while keeping its chain.
type redactedError struct {
	err error
}

func (e *redactedError) Error() string {
	return logging.RedactText(e.err.Error())
}

func (e *redactedError) Unwrap() error {
	return e.err
}

func redact(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*redactedError); ok {
		return err
	}
	msg := err.Error()
	if logging.RedactText(msg) == msg {
		return err
	}
	return &redactedError{err: err}
}
