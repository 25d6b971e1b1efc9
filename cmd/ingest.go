package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/pipeline"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/server"
)

func newServeCmd() *cobra.Command {
	return appCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, cron trigger and Telegram webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return server.New(a).Run(cmd.Context())
		},
	})
}

func newPollCmd() *cobra.Command {
	var dryRun bool
	cmd := appCommand(&cobra.Command{
		Use:   "poll",
		Short: "Poll every enabled feed once and ingest the results",
		Long: `poll runs the same work as the cron endpoint without the HTTP server.
With --dry-run it only lists the candidates the feeds produced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cands, sourceErrs := a.Poller.Collect(cmd.Context())
			for _, err := range sourceErrs {
				a.Logger.Warn("feed failed", zap.Error(err))
			}
			if dryRun {
				return printJSON(cmd, map[string]any{"candidates": cands, "sources": a.Poller.Stats()})
			}
			summary := a.Pipeline.Run(cmd.Context(), pipeline.TriggerCLI, cands)
			return printJSON(cmd, map[string]any{"summary": summary, "sources": a.Poller.Stats()})
		},
	})
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without ingesting them")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var limit int
	cmd := appCommand(&cobra.Command{
		Use:   "backfill",
		Short: "Retry translation for records staged with source text only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.Config.Pipeline.BackfillSize
			}
			report, err := a.Pipeline.Backfill(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			return printJSON(cmd, report)
		},
	})
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to retry (default pipeline.backfill_size)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
