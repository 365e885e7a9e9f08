package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"climatology/harvester/internal/repository"

	"github.com/spf13/cobra"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [unit keys...]",
		Short: "Shows the recorded outcome of previous runs (requires redis or postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := root.setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.Config.Redis.Enabled && app.Repository == nil {
				return fmt.Errorf("status needs redis.enabled or database.enabled: results of earlier runs are not kept otherwise")
			}

			out := cmd.OutOrStdout()
			keys := args

			if app.Config.Redis.Enabled {
				results, err := app.Service.Status(ctx, args)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "No recorded runs")
				} else {
					printSummary(out, results)
				}
				if len(keys) == 0 {
					for _, r := range results {
						keys = append(keys, r.Unit.Key)
					}
				}
			}

			if app.Repository != nil {
				if len(keys) == 0 {
					return errors.New("pass unit keys to look up their persisted reports")
				}
				fmt.Fprintln(out)
				return printReports(ctx, out, app.Repository, keys)
			}
			return nil
		},
	}
}

// printReports prints the reconciliation report persisted in postgres for every key.
func printReports(ctx context.Context, w io.Writer, repo repository.ReportRepository, keys []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tDECLARED\tON DISK\tMISSING\tCHECKED AT")
	for _, k := range keys {
		report, err := repo.GetReport(ctx, k)
		if err != nil {
			return err
		}
		if report == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\tno report\n", k)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", report.UnitKey, report.DeclaredTotal, report.ActualCount,
			report.MissingCount, report.CheckedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
