package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/observability"
)

func newCaptureCmd() *cobra.Command {
	var region string
	var title string
	var description string

	captureCmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture a single link without a workbook",
		Long: `Runs one link through the same pipeline as a batch run, retries
included, and prints the artifact path on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := newComponents(ctx)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			item := schemas.WorkItem{
				Link:        args[0],
				Title:       title,
				Region:      strings.ToLower(strings.TrimSpace(region)),
				Description: description,
			}

			runResults, runErr := components.Engine.Run(ctx, []schemas.WorkItem{item})
			if runErr != nil {
				return runErr
			}
			if len(runResults) != 1 {
				return fmt.Errorf("expected one result, got %d", len(runResults))
			}

			res := runResults[0]
			if res.Status != schemas.StatusOK {
				return fmt.Errorf("capture failed after %d attempt(s): %s", res.Attempts, res.Context)
			}

			logger.Info("Capture stored",
				zap.String("artifact", res.ArtifactPath),
				zap.Int("attempts", res.Attempts))
			fmt.Println(res.ArtifactPath)
			return nil
		},
	}

	captureCmd.Flags().StringVar(&region, "region", "", "region code controlling the proxy route (required)")
	captureCmd.Flags().StringVar(&title, "title", "", "title recorded in info.txt when the description is empty")
	captureCmd.Flags().StringVar(&description, "description", "", "description recorded in info.txt")
	_ = captureCmd.MarkFlagRequired("region")

	return captureCmd
}
