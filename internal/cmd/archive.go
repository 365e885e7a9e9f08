package cmd

import (
	"climatology/harvester/internal/domain"

	"github.com/spf13/cobra"
)

func newArchiveCommand(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "archive URL",
		Short: "Downloads the bulk archives linked from a single listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := root.setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Service.Archive(ctx, args[0], output)
			if err != nil && result == nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), []*domain.UnitResult{result})
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "archives", "Directory archives are written to")

	return cmd
}
