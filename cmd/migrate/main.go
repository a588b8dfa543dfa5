package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jnoller/racer/internal/app/migrate"
	"github.com/jnoller/racer/pkg/config"
	"github.com/jnoller/racer/pkg/logger"
)

func main() {
	var timeout time.Duration
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the racer database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	// withRunner connects using DATABASE_URL and MIGRATIONS_DIR.
	withRunner := func(fn func(context.Context, migrate.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			cfg := config.LoadAPIConfig()
			log := logger.NewWithFormat(os.Stderr, "migrate", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()
			runner, err := migrate.New(pool, cfg.MigrationsDir, log)
			if err != nil {
				return err
			}
			if err := runner.Ping(ctx); err != nil {
				return err
			}
			return fn(ctx, runner)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Ensure(ctx)
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			states, err := r.Status(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED\tFILE")
			for _, s := range states {
				applied := "-"
				if !s.AppliedAt.IsZero() {
					applied = s.AppliedAt.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.State, applied, s.Path)
			}
			return tw.Flush()
		}),
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --to",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			rolled, err := r.Down(ctx, target)
			for _, step := range rolled {
				fmt.Printf("rolled back %d (%s)\n", step.Version, step.Path)
			}
			return err
		}),
	}
	down.Flags().Int64Var(&target, "to", 0, "roll back every migration above this version")

	root.AddCommand(up, status, down)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
