package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/task"
)

// newTaskCmd creates the task command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Work with tasks across backends",
		Long: `Task ids carry a backend prefix: md#7 is a markdown checklist item,
json#3 lives in the JSON store, gh#42 is a GitHub issue, gl#8 a GitLab
issue, and jira ids like PROJ-12 go to the default backend.`,
	}

	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		backend string
		status  string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			filter := task.Filter{Backend: backend}
			if status != "" {
				parsed, err := task.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = parsed
			}

			tasks, err := app.router.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tSPEC")
			for _, t := range tasks {
				spec := t.SpecReference
				if spec == "" {
					spec = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, truncate(t.Title, 50), spec)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "limit to one backend prefix, e.g. md")
	cmd.Flags().StringVar(&status, "status", "", "limit to one status, e.g. IN-PROGRESS")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			t, err := app.router.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(t)
			}

			st := newStyles()
			fmt.Println(st.render(st.Header, t.ID))
			fmt.Printf("  title:  %s\n", t.Title)
			fmt.Printf("  status: %s\n", t.Status)
			if t.SpecReference != "" {
				fmt.Printf("  spec:   %s\n", t.SpecReference)
			}
			return nil
		},
	}
}

func newTaskAddCmd() *cobra.Command {
	var (
		backend string
		specRef string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Long: `Create a task in a backend (the default backend when --backend is
omitted).

Example:
  sesh task add "Harden the importer"
  sesh task add "Fix pagination" --backend gh --spec docs/paging.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			t, err := app.router.CreateTask(cmd.Context(), backend, task.Spec{
				Title:         args[0],
				SpecReference: specRef,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Created task %s\n", t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "backend prefix to create in")
	cmd.Flags().StringVar(&specRef, "spec", "", "spec reference to attach")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a task to a new status",
		Long: `Set a task's status. Statuses move forward only (TODO, IN-PROGRESS,
IN-REVIEW, DONE); --force overrides, for reopening or abandoning work.

Example:
  sesh task status md#7 IN-PROGRESS
  sesh task status gh#42 TODO --force`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := task.ParseStatus(args[1])
			if err != nil {
				return err
			}

			t, err := app.router.SetStatus(cmd.Context(), args[0], status, force)
			if err != nil {
				return err
			}

			fmt.Printf("%s is now %s\n", t.ID, t.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "allow backward transitions")
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.router.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted task %s\n", args[0])
			return nil
		},
	}
}
