package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/checksum"
	pgstore "github.com/Athena-vivi/LMSY.space-sub002/internal/storage/postgres"
)

var errNoDSN = errors.New("database.dsn is not configured")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back draft_items schema migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errNoDSN
			}
			version, dirty, err := pgstore.MigrateUp(cfg.Database.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errNoDSN
			}
			if err := pgstore.MigrateDown(cfg.Database.DSN, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "migrations to roll back; 0 rolls back everything")

	cmd.AddCommand(up, down)
	return cmd
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum FILE...",
		Short: "Print the content hash used for media dedup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				sum, n, err := checksum.HashReader(f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("hash %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d  %s\n", sum, n, path)
			}
			return nil
		},
	}
}
