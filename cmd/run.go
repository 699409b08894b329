package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/observability"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/results"
)

func newRunCmd() *cobra.Command {
	var workbookPath string
	var sheetName string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Capture every unprocessed item in the batch workbook",
		Long: `Reads unprocessed rows from the batch workbook, captures each lander
through its region's proxy route, archives the artifacts, and writes the
per-row outcome back into the workbook.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := newComponents(ctx)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			items, rows, err := components.Workbook.ReadItems(workbookPath, sheetName)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				logger.Info("Workbook has no unprocessed items")
				return nil
			}

			runResults, runErr := components.Engine.Run(ctx, items)

			// Write back whatever completed. Items closed out by a canceled
			// run keep their rows unmarked so the next run picks them up.
			writeback := make([]schemas.Result, 0, len(runResults))
			for _, res := range runResults {
				if res.Status == schemas.StatusError &&
					results.FailureKind(res.Context) == results.KindCanceled {
					continue
				}
				writeback = append(writeback, res)
			}
			if err := components.Workbook.WriteResults(workbookPath, sheetName, rows, writeback); err != nil {
				logger.Error("Failed to write results back to workbook", zap.Error(err))
				if runErr == nil {
					runErr = err
				}
			}

			summary := results.Summarize(runResults)
			logger.Info("Run summary",
				zap.Int("total", summary.Total),
				zap.Int("captured", summary.OK),
				zap.Int("failed", summary.Errors),
				zap.Any("by_kind", summary.ByKind),
				zap.Any("by_region", summary.ByRegion),
			)
			return runErr
		},
	}

	runCmd.Flags().StringVar(&workbookPath, "workbook", "", "spreadsheet to process (default from config)")
	runCmd.Flags().StringVar(&sheetName, "sheet", "", "sheet name (default: first sheet)")

	return runCmd
}
