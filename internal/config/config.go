// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/source/rss"
)

// EnvPrefix prefixes every environment override, e.g. LMSY_SERVER_PORT.
const EnvPrefix = "LMSY"

// Storage backends.
const (
	BackendR2     = "r2"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Cron        CronConfig        `mapstructure:"cron"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Translator  TranslatorConfig  `mapstructure:"translator"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Feeds       FeedsConfig       `mapstructure:"feeds"`
	Sources     []rss.Source      `mapstructure:"sources"`
}

// ApplicationConfig describes the deployment for telemetry resources.
type ApplicationConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	Version       string `mapstructure:"version"`
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Region        string `mapstructure:"region"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the moderation API.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CronConfig guards the scheduled fetch trigger.
type CronConfig struct {
	Secret  string        `mapstructure:"secret"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// TelegramConfig configures the webhook adapter.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	SecretToken    string        `mapstructure:"secret_token"`
	UpdateTTL      time.Duration `mapstructure:"update_ttl"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	Workers        int           `mapstructure:"workers"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// TranslatorConfig configures the OpenRouter client.
type TranslatorConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Referer     string        `mapstructure:"referer"`
	Title       string        `mapstructure:"title"`
}

// FetcherConfig configures media downloads.
type FetcherConfig struct {
	UserAgents []string      `mapstructure:"user_agents"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
}

// RateLimitConfig throttles media downloads per host.
type RateLimitConfig struct {
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	PerHostRPS   map[string]float64 `mapstructure:"per_host_rps"`
}

// StorageConfig selects and configures the media object store.
type StorageConfig struct {
	Backend       string   `mapstructure:"backend"`
	KeyPrefix     string   `mapstructure:"key_prefix"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	R2            R2Config `mapstructure:"r2"`
	GCSBucket     string   `mapstructure:"gcs_bucket"`
	LocalDir      string   `mapstructure:"local_dir"`
}

// R2Config holds Cloudflare R2 credentials.
type R2Config struct {
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig enables the shared idempotency store. Empty URL and address
// select the in-memory store.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

// PubSubConfig holds metadata for staged-item notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PipelineConfig bounds ingestion runs.
type PipelineConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	RunBudget    time.Duration `mapstructure:"run_budget"`
	BackfillSize int           `mapstructure:"backfill_size"`
}

// ProgressConfig controls the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	RunHistory     int           `mapstructure:"run_history"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// TelemetryConfig toggles tracing export.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FeedsConfig tunes the RSS poller.
type FeedsConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// Load builds a Config from an optional .env file, an optional YAML file and
// LMSY_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads .env (or LMSY_DOTENV) into the process environment without
// overriding variables that are already set.
func loadDotEnv() error {
	path := os.Getenv(EnvPrefix + "_DOTENV")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.service_name", "lmsy-ingest")
	v.SetDefault("application.version", "dev")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("cron.secret", "")
	v.SetDefault("cron.lock_ttl", 5*time.Minute)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.secret_token", "")
	v.SetDefault("telegram.update_ttl", 24*time.Hour)
	v.SetDefault("telegram.queue_depth", 256)
	v.SetDefault("telegram.workers", 2)
	v.SetDefault("telegram.enqueue_timeout", 2*time.Second)

	v.SetDefault("translator.api_key", "")
	v.SetDefault("translator.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("translator.model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("translator.temperature", 0.3)
	v.SetDefault("translator.max_tokens", 1000)
	v.SetDefault("translator.timeout", 30*time.Second)
	v.SetDefault("translator.max_attempts", 2)
	v.SetDefault("translator.referer", "https://lmsy.space")
	v.SetDefault("translator.title", "LMSY Archive")

	v.SetDefault("fetcher.timeout", 60*time.Second)
	v.SetDefault("fetcher.max_bytes", 50<<20)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 2)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.key_prefix", "draft")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "./data/media")
	v.SetDefault("storage.r2.account_id", "")
	v.SetDefault("storage.r2.access_key_id", "")
	v.SetDefault("storage.r2.secret_access_key", "")
	v.SetDefault("storage.r2.bucket", "")
	v.SetDefault("storage.r2.endpoint", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "draft_items")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "draft.staged")

	v.SetDefault("pipeline.concurrency", 10)
	v.SetDefault("pipeline.stage_timeout", 60*time.Second)
	v.SetDefault("pipeline.run_budget", 5*time.Minute)
	v.SetDefault("pipeline.backfill_size", 25)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.run_history", 200)
	v.SetDefault("progress.log_events", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("logging.development", true)

	v.SetDefault("feeds.window", 24*time.Hour)
	v.SetDefault("feeds.timeout", 30*time.Second)
	v.SetDefault("feeds.user_agent", "LMSY-Archive-Crawler/1.0")
}

// Validate enforces required values and reasonable limits. All problems are
// reported together.
func (c Config) Validate() error {
	var errs error
	if c.Server.Port <= 0 {
		errs = multierr.Append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = multierr.Append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Pipeline.Concurrency <= 0 {
		errs = multierr.Append(errs, errors.New("pipeline.concurrency must be > 0"))
	}
	if c.Pipeline.RunBudget <= 0 {
		errs = multierr.Append(errs, errors.New("pipeline.run_budget must be > 0"))
	}
	if c.Telegram.QueueDepth <= 0 {
		errs = multierr.Append(errs, errors.New("telegram.queue_depth must be > 0"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = multierr.Append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	switch c.Storage.Backend {
	case BackendR2:
		r2 := c.Storage.R2
		if r2.Bucket == "" || r2.AccessKeyID == "" || r2.SecretAccessKey == "" {
			errs = multierr.Append(errs, errors.New("storage.r2 requires bucket, access_key_id and secret_access_key"))
		}
		if r2.AccountID == "" && r2.Endpoint == "" {
			errs = multierr.Append(errs, errors.New("storage.r2 requires account_id or endpoint"))
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = multierr.Append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = multierr.Append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendMemory:
	default:
		errs = multierr.Append(errs, fmt.Errorf("storage.backend %q is not one of r2, gcs, local, memory", c.Storage.Backend))
	}
	for i, src := range c.Sources {
		if src.URL == "" {
			errs = multierr.Append(errs, fmt.Errorf("sources[%d].url is required", i))
		}
	}
	return errs
}

// FeedConfig assembles the RSS poller configuration.
func (c Config) FeedConfig() rss.Config {
	return rss.Config{
		Sources:   c.Sources,
		Window:    c.Feeds.Window,
		Timeout:   c.Feeds.Timeout,
		UserAgent: c.Feeds.UserAgent,
	}
}
