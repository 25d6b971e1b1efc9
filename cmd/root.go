// Package cmd defines the lmsy-ingest command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/app"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/logging"
)

type ctxKey string

const (
	appKey ctxKey = "app"
	cfgKey ctxKey = "config"

	// needsApp marks commands that run against the full service graph.
	needsApp = "needs-app"
)

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "lmsy-ingest",
		Short: "Ingestion and dedup pipeline for the LMSY fan archive.",
		Long: `lmsy-ingest polls RSS feeds and receives Telegram updates, downloads
the media they reference, stores it once per content hash, translates
captions into English, Chinese and Thai, and stages every item as a
draft for moderation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
			if cmd.Annotations[needsApp] != "true" {
				cmd.SetContext(ctx)
				return nil
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(ctx, appKey, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return nil
			}
			// serve closes the app itself during shutdown; Close is idempotent.
			if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
				return fmt.Errorf("close application: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file; LMSY_* environment variables override it")

	cmd.AddCommand(
		newServeCmd(),
		newPollCmd(),
		newBackfillCmd(),
		newMigrateCmd(),
		newChecksumCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func appCommand(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[needsApp] = "true"
	return cmd
}
