package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/workflow"
)

// newStartCmd creates the start command.
func newStartCmd() *cobra.Command {
	var (
		repoURI    string
		taskID     string
		baseBranch string
	)

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Create a session",
		Long: `Create a session: a workspace with the repository checked out on a new
branch named after the session. A local repository path attaches a
worktree instead of cloning.

Example:
  sesh start billing --repo git@github.com:acme/shop.git
  sesh start billing --repo ../shop --task gh#42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.engine.Start(cmd.Context(), workflow.StartOptions{
				Name:       args[0],
				RepoURI:    repoURI,
				TaskID:     taskID,
				BaseBranch: baseBranch,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Started session %s\n", rec.Name)
			fmt.Printf("  branch:    %s\n", rec.BranchName)
			fmt.Printf("  workspace: %s\n", rec.WorkspacePath)
			if rec.TaskID != "" {
				fmt.Printf("  task:      %s\n", rec.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURI, "repo", "", "repository URL or local path (required)")
	cmd.Flags().StringVar(&taskID, "task", "", "task to track, e.g. gh#42 or md#7")
	cmd.Flags().StringVar(&baseBranch, "base", "", "base branch (default from config)")
	cmd.MarkFlagRequired("repo")
	return cmd
}
