package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newShowCmd creates the show command.
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name-or-task-id>",
		Short: "Show one session",
		Long: `Show a session by name, or by the task id it tracks.

Example:
  sesh show billing
  sesh show gh#42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.engine.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(rec)
			}

			st := newStyles()
			fmt.Println(st.render(st.Header, rec.Name))
			fmt.Printf("  repository: %s\n", rec.RepositoryURI)
			fmt.Printf("  workspace:  %s\n", rec.WorkspacePath)
			fmt.Printf("  branch:     %s\n", rec.BranchName)
			fmt.Printf("  pr state:   %s\n", st.prStateLabel(rec.PRState))
			if rec.PRBranchName != "" {
				fmt.Printf("  pr branch:  %s\n", rec.PRBranchName)
			}
			if rec.TaskID != "" {
				fmt.Printf("  task:       %s\n", rec.TaskID)
			}
			fmt.Printf("  created:    %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("  updated:    %s\n", rec.UpdatedAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}
