// Package cli implements the sesh command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	// Task backends register themselves with the router at init time.
	_ "github.com/randalmurphal/sesh/internal/taskhub/github"
	_ "github.com/randalmurphal/sesh/internal/taskhub/gitlab"
	_ "github.com/randalmurphal/sesh/internal/taskhub/jira"
	_ "github.com/randalmurphal/sesh/internal/taskhub/jsonstore"
	_ "github.com/randalmurphal/sesh/internal/taskhub/markdown"
)

var (
	projectDir string
	verbose    bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "sesh",
	Short: "Git-backed development session manager",
	Long: `sesh manages development sessions: each session binds a git branch to
its own workspace, optionally tracks a task, and moves through an
explicit review lifecycle.

Quick start:
  sesh init                         Initialize sesh in current project
  sesh start billing --repo <uri>   Create a session
  sesh update billing               Pull the base branch into the session
  sesh prepare billing              Build and push the PR branch
  sesh approve billing              Mark the prepared PR approved
  sesh merge billing                Land the approved PR on the base branch`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, printing structured errors on the way
// out.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "project directory (default is the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newPrepareCmd())
	rootCmd.AddCommand(newApproveCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newConflictsCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newStoreCmd())
	rootCmd.AddCommand(newVersionCmd())
}
