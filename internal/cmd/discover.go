package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCommand(root *rootOptions) *cobra.Command {
	var showURLs bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Lists the units found on the root listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := root.setup(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			units, err := app.Service.Discover(ctx, app.Config.Catalog.RootURL)
			if err != nil {
				return err
			}

			for _, u := range units {
				if showURLs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.Key, u.ListingURL)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), u.Key)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showURLs, "urls", false, "Print each unit's listing URL too")

	return cmd
}
