// Package app builds the long-lived services shared by the HTTP server and the
// one-shot CLI commands.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/checksum"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/clock/system"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/dispatcher"
	idgen "github.com/Athena-vivi/LMSY.space-sub002/internal/id/uuid"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/idempotency"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/media"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/policy/ratelimit"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
	progresssinks "github.com/Athena-vivi/LMSY.space-sub002/internal/progress/sinks"
	memorypublisher "github.com/Athena-vivi/LMSY.space-sub002/internal/publisher/memory"
	gcppublisher "github.com/Athena-vivi/LMSY.space-sub002/internal/publisher/pubsub"
	queueMemory "github.com/Athena-vivi/LMSY.space-sub002/internal/queue/memory"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/rss"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/telegram"
	gcsstorage "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/gcs"
	localstorage "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/local"
	memorystorage "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/memory"
	pgstore "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/postgres"
	r2storage "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/r2"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/telemetry"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/translate"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/worker"
)

const (
	updateScope       = "telegram-update"
	webhookRetryTries = 3
)

// App holds every service built from one Config.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Clock      ingest.Clock
	Drafts     ingest.DraftStore
	Blob       ingest.BlobStore
	Runs       progress.RunRepository
	Pipeline   *pipeline.Pipeline
	Poller     *rss.Poller
	Queue      *queueMemory.Queue
	Dispatcher *dispatcher.Dispatcher
	Updates    *idempotency.Guard
	Locks      idempotency.Store
	// Checks are readiness probes keyed by dependency name.
	Checks map[string]func(context.Context) error

	hub     *progress.Hub
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option adjusts Build for tests and embedding.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithRegisterer registers progress metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient sets the client used for feeds, Telegram, and translation calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Build creates the application's dependencies. Anything already opened is
// closed again when a later step fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(),
		Checks: make(map[string]func(context.Context) error),
	}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.Background()); cerr != nil {
				logger.Warn("cleanup after failed build", zap.Error(cerr))
			}
		}
	}()

	logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
		zap.Bool("translator", cfg.Translator.APIKey != ""),
		zap.Int("sources", len(cfg.Sources)),
	)

	providers, err := telemetry.InitTelemetry(ctx, &a.Config)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	a.addCloser("telemetry", providers.Shutdown)

	if a.Blob, err = setupStorage(ctx, a); err != nil {
		return nil, err
	}
	if a.Drafts, err = setupDatabase(ctx, a); err != nil {
		return nil, err
	}
	if a.Locks, err = setupIdempotency(ctx, a); err != nil {
		return nil, err
	}
	if a.Updates, err = idempotency.NewGuard(a.Locks, cfg.Telegram.UpdateTTL, updateScope); err != nil {
		return nil, fmt.Errorf("update guard init failed: %w", err)
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return nil, err
	}
	a.Runs = memorystorage.NewRunStore(cfg.Progress.RunHistory)
	emitter := setupProgress(ctx, a, o.registerer)

	translator, err := setupTranslator(a, o.httpClient)
	if err != nil {
		return nil, err
	}
	resolvers, err := setupResolvers(a, o.httpClient)
	if err != nil {
		return nil, err
	}

	fetcher := media.New(media.Config{
		UserAgents: cfg.Fetcher.UserAgents,
		Timeout:    cfg.Fetcher.Timeout,
		MaxBytes:   cfg.Fetcher.MaxBytes,
	}, ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
		PerHostRPS:   cfg.RateLimit.PerHostRPS,
	}))

	deps := pipeline.Deps{
		Store:     a.Drafts,
		Blob:      a.Blob,
		Fetcher:   fetcher,
		Resolvers: resolvers,
		Hasher:    checksum.New(),
		Clock:     a.Clock,
		IDs:       idgen.NewUUIDGenerator(),
		Publisher: publisher,
		Emitter:   emitter,
		Logger:    logger,
	}
	// A nil *translate.Client must not become a non-nil interface.
	if translator != nil {
		deps.Translator = translator
	}
	a.Pipeline, err = pipeline.New(deps, pipeline.Config{
		Concurrency:  cfg.Pipeline.Concurrency,
		StageTimeout: cfg.Pipeline.StageTimeout,
		RunBudget:    cfg.Pipeline.RunBudget,
		KeyPrefix:    cfg.Storage.KeyPrefix,
		Topic:        cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.Poller = rss.New(cfg.FeedConfig(), o.httpClient, a.Clock, logger.Named("rss"))
	a.Queue = queueMemory.NewQueue(cfg.Telegram.QueueDepth)
	a.Dispatcher = dispatcher.NewPool(a.Queue, a.Pipeline, cfg.Telegram.Workers, worker.Config{
		Trigger: pipeline.TriggerWebhook,
		Retry:   ingest.NewExponentialRetryPolicy(webhookRetryTries, 2*time.Second, 30*time.Second),
	}, logger.Named("worker"))

	logger.Info("application dependencies ready")
	return a, nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases everything Build opened, newest first. The progress hub is
// flushed before the run store and publisher it reports through go away.
func (a *App) Close(ctx context.Context) error {
	var errs error
	if a.hub != nil {
		errs = multierr.Append(errs, a.hub.Close(ctx))
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errs
}

func setupStorage(ctx context.Context, a *App) (ingest.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.BackendR2:
		a.Logger.Info("using R2 storage backend", zap.String("bucket", cfg.R2.Bucket))
		store, err := r2storage.New(ctx, r2storage.Config{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			SecretAccessKey: cfg.R2.SecretAccessKey,
			Bucket:          cfg.R2.Bucket,
			PublicBaseURL:   cfg.PublicBaseURL,
			Endpoint:        cfg.R2.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("r2 blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		a.Logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, PublicBaseURL: cfg.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		a.Logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir, PublicBaseURL: cfg.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.Logger.Warn("using in-memory storage backend; media is lost on restart")
		return memorystorage.NewBlobStore(cfg.PublicBaseURL), nil
	}
}

func setupDatabase(ctx context.Context, a *App) (ingest.DraftStore, error) {
	cfg := a.Config.Database
	if cfg.DSN == "" {
		a.Logger.Warn("no database DSN configured, using in-memory draft store")
		return memorystorage.NewDraftStore(), nil
	}
	if cfg.AutoMigrate {
		version, dirty, err := pgstore.MigrateUp(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		a.Logger.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	store, err := pgstore.NewDraftStore(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("draft store init failed: %w", err)
	}
	a.addCloser("postgres", func(context.Context) error {
		store.Close()
		return nil
	})
	a.Checks["database"] = store.Ping
	a.Logger.Info("draft store initialized", zap.String("table", cfg.Table))
	return store, nil
}

func setupIdempotency(ctx context.Context, a *App) (idempotency.Store, error) {
	cfg := a.Config.Redis
	if !cfg.Enabled() {
		a.Logger.Warn("no redis configured, idempotency keys are process-local")
		return idempotency.NewMemoryStore(), nil
	}
	store, err := idempotency.NewRedisStore(ctx, idempotency.RedisConfig{
		URL:         cfg.URL,
		Address:     cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.addCloser("redis", func(context.Context) error { return store.Close() })
	a.Checks["redis"] = store.Ping
	a.Logger.Info("redis idempotency store initialized")
	return store, nil
}

func setupPublisher(ctx context.Context, a *App) (ingest.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		a.Logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.Logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

func setupProgress(ctx context.Context, a *App, reg prometheus.Registerer) progress.Emitter {
	cfg := a.Config.Progress
	sinkList := []progress.Sink{progresssinks.NewRunSink(a.Runs, a.Logger.Named("progress_runs"))}
	if reg != nil {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			a.Logger.Warn("progress prometheus sink disabled", zap.Error(err))
		} else {
			sinkList = append(sinkList, promSink)
		}
	}
	if cfg.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.Logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		SinkTimeout:    cfg.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.Logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.Logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub
}

func setupTranslator(a *App, client *http.Client) (*translate.Client, error) {
	cfg := a.Config.Translator
	if cfg.APIKey == "" {
		a.Logger.Warn("no translator API key configured, staging source text only")
		return nil, nil
	}
	tr, err := translate.New(translate.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		Referer:     cfg.Referer,
		Title:       cfg.Title,
	}, client, a.Logger.Named("translate"))
	if err != nil {
		return nil, fmt.Errorf("translator init failed: %w", err)
	}
	a.Logger.Info("translator initialized", zap.String("model", tr.Model()))
	return tr, nil
}

func setupResolvers(a *App, client *http.Client) (map[ingest.Platform]ingest.MediaResolver, error) {
	resolvers := make(map[ingest.Platform]ingest.MediaResolver)
	cfg := a.Config.Telegram
	if cfg.BotToken == "" {
		a.Logger.Warn("no telegram bot token configured, telegram media cannot be resolved")
		return resolvers, nil
	}
	res, err := telegram.NewResolver(cfg.BotToken, cfg.APIBase, client)
	if err != nil {
		return nil, fmt.Errorf("telegram resolver init failed: %w", err)
	}
	resolvers[ingest.PlatformTelegram] = res
	return resolvers, nil
}
