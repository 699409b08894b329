package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/observability"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/results"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/store"
)

func newReportCmd() *cobra.Command {
	var runID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a JSON report for a completed run",
		Long: `Reads the journaled results for a run ID from the database and compiles
status, failure-kind, and region summaries into a JSON report on stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("a run-id must be provided")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			if !cfg.Postgres.Enabled {
				return fmt.Errorf("reporting needs the result journal; set postgres.enabled and postgres.url")
			}

			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			storeService, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize result store: %w", err)
			}

			list, err := storeService.ListResults(ctx, runID)
			if err != nil {
				logger.Error("Failed to load run results", zap.Error(err), zap.String("run_id", runID))
				return err
			}
			if len(list) == 0 {
				return fmt.Errorf("no results recorded for run %s", runID)
			}

			report, err := results.BuildReport(runID, list)
			if err != nil {
				return err
			}

			reportJSON, err := report.ToJSON()
			if err != nil {
				return fmt.Errorf("failed to serialize report to JSON: %w", err)
			}

			fmt.Println(string(reportJSON))
			return nil
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to report on (required)")
	_ = reportCmd.MarkFlagRequired("run-id")

	return reportCmd
}
