package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Fetches the downloads queued by earlier harvests once more (requires redis)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := root.setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.RetryQueue == nil {
				return fmt.Errorf("retry needs redis.enabled: failed downloads are only queued there")
			}

			out := cmd.OutOrStdout()
			pending, err := app.Service.PendingRetries(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Retry queue holds %d entries\n", pending)

			report, err := app.Service.Retry(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Retried %d: %d recovered, %d requeued, %d abandoned\n",
				report.Retried, report.Recovered, report.Requeued, report.Abandoned)
			if len(report.Units) > 0 {
				printSummary(out, report.Units)
			}
			return nil
		},
	}
}
