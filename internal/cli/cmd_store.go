package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/config"
	sesherr "github.com/randalmurphal/sesh/internal/errors"
	"github.com/randalmurphal/sesh/internal/store"
)

// newStoreCmd creates the store command group.
func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage session persistence",
	}

	cmd.AddCommand(newStoreMigrateCmd())
	cmd.AddCommand(newStoreCheckCmd())
	return cmd
}

func newStoreMigrateCmd() *cobra.Command {
	var (
		to     string
		dsn    string
		backup bool
	)

	cmd := &cobra.Command{
		Use:   "migrate --to <backend>",
		Short: "Migrate sessions to another store backend",
		Long: `Copy every session record from the configured store into another
backend, verifying that the destination holds exactly the source's
content. Records that fail validation are quarantined, never silently
dropped; the source is snapshotted first (disable with --backup=false)
and left untouched.

Update store.backend in config.yaml afterwards to switch over.

Example:
  sesh store migrate --to sqlite
  sesh store migrate --to postgres --dsn postgres://sesh@db/sesh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			kind, err := store.ParseKind(to)
			if err != nil {
				return err
			}
			if kind == store.KindPostgres && dsn == "" {
				dsn = app.cfg.Store.DSN
			}
			if kind == store.KindPostgres && dsn == "" {
				return sesherr.ErrValidation(
					"postgres destination requires a DSN",
					"Pass --dsn or set store.dsn in config.yaml")
			}

			metaDir := config.MetaDir(app.dir)
			dst, err := store.Open(cmd.Context(), metaDir, store.Config{Kind: kind, DSN: dsn})
			if err != nil {
				return err
			}
			defer dst.Close()

			result, err := store.NewMigrator(metaDir).Migrate(cmd.Context(), app.store, dst,
				store.MigrateOptions{Backup: backup})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			st := newStyles()
			fmt.Printf("Migrated %d session(s) from %s to %s\n",
				result.Migrated, result.Source, result.Destination)
			if result.Snapshot != "" {
				fmt.Printf("  snapshot: %s\n", result.Snapshot)
			}
			if len(result.Quarantined) > 0 {
				fmt.Println(st.render(st.Warn,
					fmt.Sprintf("  quarantined %d record(s):", len(result.Quarantined))))
				for _, q := range result.Quarantined {
					fmt.Printf("    %s: %s (%s)\n", q.Name, q.Reason, q.File)
				}
			}
			fmt.Printf("Set store.backend: %s in %s to switch over.\n", kind, config.ConfigFileName)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "destination backend: file, sqlite, or postgres (required)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string")
	cmd.Flags().BoolVar(&backup, "backup", true, "snapshot the source store before migrating")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newStoreCheckCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check store and workspace integrity",
		Long: `Cross-check session records against workspace directories: dangling
records, orphaned workspaces, duplicate names, and invalid records.
With --fix, dangling records are deleted, orphaned workspace
directories are removed, and repairable record fields are normalized.

Example:
  sesh store check
  sesh store check --fix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			checker := store.NewIntegrityChecker(app.store, app.engine.WorkspacesDir(), fix)
			report, err := checker.Check(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			st := newStyles()
			if report.OK() {
				fmt.Println(st.render(st.Good, "Store is consistent."))
				return nil
			}

			fmt.Printf("Found %d issue(s):\n", len(report.Issues))
			for _, issue := range report.Issues {
				line := fmt.Sprintf("  [%s] %s", issue.Kind, issue.Detail)
				if issue.Fixed {
					line += " " + st.render(st.Good, "(fixed)")
				} else if issue.FixNote != "" {
					line += " " + st.render(st.Subtle, "("+issue.FixNote+")")
				}
				fmt.Println(line)
			}
			if !fix {
				fmt.Println("\nRe-run with --fix to repair.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "repair findings that have a safe automatic fix")
	return cmd
}
