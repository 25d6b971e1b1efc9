package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	idgen "github.com/Athena-vivi/LMSY.space-sub002/internal/id/uuid"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

const (
	defaultBackfillSize = 25
	maxBackfillErrors   = 50
)

// ErrTranslatorDisabled is returned by Backfill when no translator is configured.
var ErrTranslatorDisabled = errors.New("translator is not configured")

// BackfillReport summarizes one translation backfill pass.
type BackfillReport struct {
	Scanned  int      `json:"scanned"`
	Promoted int      `json:"promoted"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Backfill retries translation for up to limit records staged with source text
// only. Each success moves the record to complete/completed; failures stay put
// for the next pass. Records with no text at all are parked as skipped and
// leave the backlog.
func (p *Pipeline) Backfill(ctx context.Context, limit int) (BackfillReport, error) {
	if p.deps.Translator == nil {
		return BackfillReport{}, ErrTranslatorDisabled
	}
	if limit <= 0 {
		limit = defaultBackfillSize
	}

	sctx, cancel := p.stageCtx(ctx)
	recs, err := p.deps.Store.ListTranslationFailures(sctx, limit)
	cancel()
	if err != nil {
		return BackfillReport{}, fmt.Errorf("list translation failures: %w", err)
	}

	runID := idgen.NewUUIDGenerator().NewRunID()
	run := progress.UUIDToBytes(runID)
	started := time.Now()
	p.emit(progress.Event{RunID: run, Kind: progress.KindRunStart, Trigger: TriggerBackfill})

	ctx, span := p.tracer.Start(ctx, "ingest.backfill", trace.WithAttributes(
		attribute.Int("lmsy.candidates", len(recs)),
	))
	defer span.End()

	report := BackfillReport{Scanned: len(recs)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, rec := range recs {
		g.Go(func() error {
			itemStart := time.Now()
			err := p.retranslate(ctx, rec)
			outcome := ingest.OutcomeIngested
			skipped := errors.Is(err, errNoSourceText)
			if err != nil {
				outcome = ingest.OutcomeFailedPartial
			}
			p.emit(progress.Event{
				RunID:     run,
				Kind:      progress.KindItemDone,
				Stage:     ingest.StageTranslating,
				Platform:  rec.SourcePlatform,
				SourceURL: rec.SourceURL,
				Outcome:   outcome,
				ErrorKind: ingest.Classify(err),
				Dur:       time.Since(itemStart),
			})

			mu.Lock()
			defer mu.Unlock()
			if skipped {
				report.Skipped++
				return nil
			}
			if err != nil {
				report.Failed++
				if len(report.Errors) < maxBackfillErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
				}
				p.logger.Warn("translation backfill failed", zap.String("record_id", rec.ID), zap.Error(err))
				return nil
			}
			report.Promoted++
			return nil
		})
	}
	_ = g.Wait()

	p.emit(progress.Event{RunID: run, Kind: progress.KindRunDone, Trigger: TriggerBackfill, Dur: time.Since(started)})
	p.logger.Info("translation backfill finished",
		zap.String("run_id", runID.String()),
		zap.Int("scanned", report.Scanned),
		zap.Int("promoted", report.Promoted),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (p *Pipeline) retranslate(ctx context.Context, rec ingest.StagedRecord) error {
	title, titleHint := sourceOf(rec.Title)
	desc, descHint := sourceOf(rec.Description)

	sctx, cancel := p.stageCtx(ctx)
	defer cancel()
	update := ingest.TranslationUpdate{ID: rec.ID, UpdatedAt: p.deps.Clock.Now()}
	if title == "" && desc == "" {
		update.Stage, update.Status = ingest.StageFailed, ingest.TranslationSkipped
		update.Title, update.Description = rec.Title, rec.Description
		if err := p.deps.Store.UpdateTranslation(sctx, update); err != nil {
			return fmt.Errorf("update translation: %w", err)
		}
		return errNoSourceText
	}
	if title == "" {
		title, titleHint = headline(desc), descHint
	}

	titleOut, descOut, err := p.translateFields(sctx, title, desc, titleHint, descHint)
	if err != nil {
		return err
	}
	update.Stage, update.Status = ingest.StageComplete, ingest.TranslationCompleted
	update.Model = p.deps.Translator.Model()
	update.Title, update.Description = titleOut, descOut
	if err := p.deps.Store.UpdateTranslation(sctx, update); err != nil {
		return fmt.Errorf("update translation: %w", err)
	}
	return nil
}

// sourceOf returns the one populated locale of a source-only text.
func sourceOf(text ingest.Localized) (string, ingest.Locale) {
	for _, loc := range ingest.AllLocales {
		if v := text[loc]; v != "" {
			return v, loc
		}
	}
	return "", ""
}
