package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/workflow"
)

// newDeleteCmd creates the delete command.
func newDeleteCmd() *cobra.Command {
	var (
		force         bool
		keepWorkspace bool
	)

	cmd := &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its workspace",
		Long: `Remove a session's record and workspace. Uncommitted changes in the
workspace are refused unless forced.

Example:
  sesh delete billing
  sesh delete billing --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.engine.Delete(cmd.Context(), args[0], workflow.DeleteOptions{
				Force:         force,
				KeepWorkspace: keepWorkspace,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete even with uncommitted changes")
	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "remove only the record, keep the directory")
	return cmd
}
