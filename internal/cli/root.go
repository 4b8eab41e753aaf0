// Package cli implements the vitals operator command tree: catalog seeding,
// synthetic telemetry, validation, exports and job queue management.
package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/config"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/output"
	"github.com/vitalsink/vitalsink/internal/store"
)

var (
	jsonOutput bool
	quietMode  bool
	cfg        *config.Config
	printer    *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "vitals",
	Short: "vitalsink operator CLI - manage telemetry, analytics and the job queue",
	Long: `vitals is the operator command-line interface for vitalsink.

Seed the metric catalog, generate synthetic telemetry, validate stored data,
export metrics, and manage analytics jobs.

Get started:
  vitals seed                # Seed the metric display catalog
  vitals mock --days 30      # Generate 30 days of synthetic telemetry
  vitals jobs list           # Show recent analytics jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger.Init(cfg.LogLevel)

		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
		)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// openStore connects to Postgres for the duration of one command.
func openStore(ctx context.Context) (store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	st := store.NewPG(pool)
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, st.Close, nil
}
