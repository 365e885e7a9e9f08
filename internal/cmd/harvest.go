package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"climatology/harvester/internal/domain"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHarvestCommand(root *rootOptions) *cobra.Command {
	var discover bool

	cmd := &cobra.Command{
		Use:   "harvest [unit keys...]",
		Short: "Downloads every file of the given units and reconciles them against the catalog",
		Example: `  harvester harvest 2001 2002
  harvester harvest --discover --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := root.setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			units := app.Units(args)
			if discover {
				found, err := app.Service.Discover(ctx, app.Config.Catalog.RootURL)
				if err != nil {
					return err
				}
				units = selectUnits(found, args)
			}
			if len(units) == 0 {
				return errors.New("no units to harvest: pass unit keys or --discover")
			}

			summary, err := app.Service.Harvest(ctx, units)
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary.Results)
			}
			if errors.Is(err, domain.ErrNoSession) {
				return err
			}
			if err != nil {
				log.Warnf("🛑 Harvest interrupted: %v", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&discover, "discover", false, "Discover units from the root listing; keys given as arguments filter them")
	cmd.Flags().String("output", "", "Directory files are written to")
	viper.BindPFlag("paths.output", cmd.Flags().Lookup("output"))
	cmd.Flags().Int("workers", 0, "Number of units processed in parallel")
	viper.BindPFlag("workers.units", cmd.Flags().Lookup("workers"))

	return cmd
}

func selectUnits(found []domain.CatalogUnit, keys []string) []domain.CatalogUnit {
	if len(keys) == 0 {
		return found
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	var out []domain.CatalogUnit
	for _, u := range found {
		if want[u.Key] {
			out = append(out, u)
		}
	}
	return out
}

func printSummary(w io.Writer, results []*domain.UnitResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATUS\tDECLARED\tON DISK\tMISSING\tDOWNLOADED\tFAILED\tDURATION\tERROR")
	for _, r := range results {
		if r == nil {
			continue
		}
		declared, onDisk, missing := r.Summary.TotalItems, "-", "-"
		if r.Report != nil {
			onDisk = fmt.Sprint(r.Report.ActualCount)
			missing = fmt.Sprint(r.Report.MissingCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Unit.Key, r.Status, declared, onDisk, missing, r.Downloaded, r.Failed,
			r.Duration.Round(time.Second), r.Error)
	}
	tw.Flush()
}
