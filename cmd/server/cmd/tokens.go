package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokensCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain the token ledger",
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Mark ledger rows whose expiry has passed",
		Long: `Run the expiry sweep once, outside the server's periodic job.

Rows already marked expired or revoked are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, global, func(app *application) error {
				swept, err := app.accounts.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d tokens expired\n", swept)
				return nil
			})
		},
	}

	cmd.AddCommand(sweep)
	return cmd
}
