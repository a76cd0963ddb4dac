package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/conflict"
	"github.com/randalmurphal/sesh/internal/workflow"
)

// newUpdateCmd creates the update command.
func newUpdateCmd() *cobra.Command {
	var autoResolveDeletes bool

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Merge the base branch into a session",
		Long: `Merge the latest base branch into the session branch. The merge is
analyzed first: predicted conflicts abort before anything is touched.
Delete/modify conflicts can be auto-resolved in favor of the deletion.

Example:
  sesh update billing
  sesh update billing --auto-resolve-deletes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.engine.Update(cmd.Context(), args[0], workflow.UpdateOptions{
				AutoResolveDeletes: autoResolveDeletes,
			})
			if err != nil {
				return err
			}

			switch {
			case res.Report.Verdict == conflict.VerdictAlreadyMerged:
				fmt.Printf("Session %s is already up to date with %s\n",
					args[0], res.Report.BaseBranch)
			case res.Merged:
				fmt.Printf("Merged %s into session %s\n",
					res.Report.BaseBranch, args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoResolveDeletes, "auto-resolve-deletes", false,
		"resolve delete/modify conflicts by keeping the deletion")
	return cmd
}
