package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/workflow"
)

// newMergeCmd creates the merge command.
func newMergeCmd() *cobra.Command {
	var keepPRBranch bool

	cmd := &cobra.Command{
		Use:   "merge <name>",
		Short: "Merge an approved session into the base branch",
		Long: `Fast-forward the base branch to the approved PR branch and push it.
If the base moved since prepare, the merge refuses and asks for a
re-prepare.

Example:
  sesh merge billing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.engine.Merge(cmd.Context(), args[0], workflow.MergeOptions{
				DeletePRBranch: !keepPRBranch,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Merged %s into %s\n", rec.Name, app.cfg.Git.BaseBranch)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepPRBranch, "keep-pr-branch", false, "do not delete the PR branch after merging")
	return cmd
}
