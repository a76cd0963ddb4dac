package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/workflow"
)

// newPrepareCmd creates the prepare command.
func newPrepareCmd() *cobra.Command {
	var (
		syncFirst          bool
		autoResolveDeletes bool
	)

	cmd := &cobra.Command{
		Use:   "prepare <name>",
		Short: "Build and push the PR branch",
		Long: `Build the session's PR branch from the base branch, merge the session
work into it, and push it. Safe to re-run: with nothing new the existing
merge commit is kept, otherwise the PR branch is rebuilt from the
current base.

Example:
  sesh prepare billing
  sesh prepare billing --sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.engine.PreparePR(cmd.Context(), args[0], workflow.PrepareOptions{
				SyncFirst:          syncFirst,
				AutoResolveDeletes: autoResolveDeletes,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Prepared %s for review on %s\n", rec.Name, rec.PRBranchName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncFirst, "sync", false, "update the session from the base branch first")
	cmd.Flags().BoolVar(&autoResolveDeletes, "auto-resolve-deletes", false,
		"with --sync, resolve delete/modify conflicts by keeping the deletion")
	return cmd
}
