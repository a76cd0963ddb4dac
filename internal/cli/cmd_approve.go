package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newApproveCmd creates the approve command.
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <name>",
		Short: "Approve a prepared session",
		Long: `Mark a prepared session as approved, unlocking merge. This only moves
record state; no git operations happen.

Example:
  sesh approve billing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.engine.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Approved %s (%s)\n", rec.Name, rec.PRBranchName)
			return nil
		},
	}
}
