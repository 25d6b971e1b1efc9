// Package pipeline moves candidates through dedup, download, storage,
// translation and staging, one bounded run at a time.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/checksum"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/clock/system"
	idgen "github.com/Athena-vivi/LMSY.space-sub002/internal/id/uuid"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/metrics"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/telemetry"
)

const (
	defaultConcurrency  = 10
	defaultStageTimeout = time.Minute
	defaultRunBudget    = 5 * time.Minute
	cleanupTimeout      = 10 * time.Second
)

// Trigger names for runs.
const (
	TriggerCron     = "cron"
	TriggerWebhook  = "webhook"
	TriggerCLI      = "cli"
	TriggerManual   = "manual"
	TriggerBackfill = "backfill"
)

// Config tunes run behavior.
type Config struct {
	// Concurrency caps how many candidates are in flight per run.
	Concurrency int
	// StageTimeout bounds each external call (store, fetch, put, translate).
	StageTimeout time.Duration
	// RunBudget bounds a whole run; items not started by then are dropped.
	RunBudget time.Duration
	KeyPrefix string
	// Topic receives a StagedEvent per inserted record. Empty disables publishing.
	Topic string
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = defaultStageTimeout
	}
	if c.RunBudget <= 0 {
		c.RunBudget = defaultRunBudget
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = ingest.DefaultKeyPrefix
	}
}

// Deps are the collaborators a Pipeline drives. Store, Blob and Fetcher are
// required; the rest fall back to working defaults. A nil Translator stages
// records with source text only.
type Deps struct {
	Store      ingest.DraftStore
	Blob       ingest.BlobStore
	Fetcher    ingest.MediaFetcher
	Resolvers  map[ingest.Platform]ingest.MediaResolver
	Translator ingest.Translator
	Hasher     ingest.Hasher
	Clock      ingest.Clock
	IDs        ingest.IDGenerator
	Publisher  ingest.Publisher
	Emitter    progress.Emitter
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// Pipeline is the ingestion orchestrator. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: draft store is required")
	case deps.Blob == nil:
		return nil, errors.New("pipeline: blob store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: media fetcher is required")
	}
	cfg.applyDefaults()
	if deps.Hasher == nil {
		deps.Hasher = checksum.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.NewUUIDGenerator()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("pipeline")
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With(zap.String("component", "pipeline")),
		tracer: deps.Tracer,
	}, nil
}

type runKey struct{}

// WithRunID tags ctx so Process attributes its events to an existing run.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

func runIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Process runs a single candidate to a terminal outcome. Without a run id on
// ctx the item is reported as its own single-item run.
func (p *Pipeline) Process(ctx context.Context, cand ingest.Candidate) ingest.Result {
	if id, ok := runIDFrom(ctx); ok {
		return p.process(ctx, progress.UUIDToBytes(id), cand)
	}
	summary := p.Run(ctx, TriggerManual, []ingest.Candidate{cand})
	return summary.last
}

// Summary is a run report: the aggregate counts plus the run id and per-item results.
type Summary struct {
	ingest.Summary
	RunID   uuid.UUID       `json:"runId"`
	Results []ingest.Result `json:"-"`

	last ingest.Result
}

// Run processes cands with bounded parallelism inside the run budget. An
// unavailable dependency stops the run: items not yet started are dropped and
// the summary is marked aborted. Items already in flight finish normally.
func (p *Pipeline) Run(ctx context.Context, trigger string, cands []ingest.Candidate) Summary {
	runID := idgen.NewUUIDGenerator().NewRunID()
	run := progress.UUIDToBytes(runID)
	started := time.Now()
	p.emit(progress.Event{RunID: run, Kind: progress.KindRunStart, Trigger: trigger})

	ctx, span := p.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("lmsy.trigger", trigger),
		attribute.Int("lmsy.candidates", len(cands)),
	))
	defer span.End()

	budgetCtx, cancelBudget := context.WithTimeout(ctx, p.cfg.RunBudget)
	defer cancelBudget()
	startCtx, abort := context.WithCancel(budgetCtx)
	defer abort()

	results := make([]ingest.Result, len(cands))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, cand := range cands {
		if startCtx.Err() != nil {
			results[i] = p.drop(run, cand)
			continue
		}
		g.Go(func() error {
			if startCtx.Err() != nil {
				results[i] = p.drop(run, cand)
				return nil
			}
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			res := p.process(budgetCtx, run, cand)
			if res.Aborts() {
				abort()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := Summary{RunID: runID, Results: results}
	out.Fetched = len(cands)
	for _, res := range results {
		out.Add(res)
		if res.Aborts() {
			out.Aborted = true
		}
	}
	if out.Dropped > 0 {
		out.Aborted = true
	}
	if len(results) > 0 {
		out.last = results[len(results)-1]
	}

	note := ""
	if out.Aborted {
		note = progress.NoteAborted
		span.SetStatus(codes.Error, "run aborted")
	}
	metrics.ObserveRun(trigger, out.Aborted)
	p.emit(progress.Event{RunID: run, Kind: progress.KindRunDone, Trigger: trigger, Dur: time.Since(started), Note: note})
	p.logger.Info("ingest run finished",
		zap.String("run_id", runID.String()),
		zap.String("trigger", trigger),
		zap.Int("fetched", out.Fetched),
		zap.Int("ingested", out.Ingested),
		zap.Int("skipped_duplicate", out.SkippedDuplicate),
		zap.Int("failed", out.Failed),
		zap.Int("failed_partial", out.FailedPartial),
		zap.Int("dropped", out.Dropped),
		zap.Bool("aborted", out.Aborted),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out
}

func (p *Pipeline) drop(run [16]byte, cand ingest.Candidate) ingest.Result {
	res := ingest.Result{Candidate: cand, Outcome: ingest.OutcomeDropped, Stage: ingest.StagePending}
	metrics.ObserveItem(string(cand.Platform), string(res.Outcome))
	p.emit(progress.Event{
		RunID:     run,
		Kind:      progress.KindItemDone,
		Platform:  cand.Platform,
		SourceURL: cand.SourceURL,
		Outcome:   res.Outcome,
	})
	return res
}

func (p *Pipeline) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = p.deps.Clock.Now()
	}
	p.deps.Emitter.Emit(evt)
}

// stageCtx bounds a single external call.
func (p *Pipeline) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.StageTimeout)
}
