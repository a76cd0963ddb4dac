package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newListCmd creates the list command.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.engine.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Println("No sessions. Create one with: sesh start <name> --repo <uri>")
				return nil
			}

			st := newStyles()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBRANCH\tPR STATE\tTASK\tWORKSPACE")
			for _, rec := range recs {
				task := rec.TaskID
				if task == "" {
					task = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.Name, rec.BranchName, st.prStateLabel(rec.PRState),
					task, truncate(rec.WorkspacePath, 50))
			}
			return w.Flush()
		},
	}
}
