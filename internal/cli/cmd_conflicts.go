package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/conflict"
)

// newConflictsCmd creates the conflicts command.
func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts <name>",
		Short: "Predict the outcome of updating a session",
		Long: `Run the merge analysis between a session branch and the base branch
without touching the workspace: a dry-run three-way merge classifies
each conflicting path.

Example:
  sesh conflicts billing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.engine.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			st := newStyles()
			fmt.Printf("%s vs %s: ahead %d, behind %d\n",
				report.SessionBranch, report.BaseBranch, report.Ahead, report.Behind)

			switch report.Verdict {
			case conflict.VerdictAlreadyMerged:
				fmt.Println(st.render(st.Good, "Already merged: nothing to update."))
			case conflict.VerdictClean:
				fmt.Println(st.render(st.Good, "Clean: the merge would apply without conflicts."))
			default:
				fmt.Println(st.render(st.Bad, fmt.Sprintf("Conflicts in %d file(s):", len(report.Entries))))
				for _, entry := range report.Entries {
					line := fmt.Sprintf("  %s (%s)", entry.Path, entry.Kind)
					if entry.Resolution == conflict.ResolutionPreferDelete {
						line += " — auto-resolvable with --auto-resolve-deletes"
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}
