package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sesh/internal/config"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize sesh in the current project",
		Long: `Create the .sesh metadata directory with a default configuration.

Example:
  sesh init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDir()
			if err != nil {
				return err
			}

			metaDir := config.MetaDir(dir)
			if _, err := os.Stat(config.Path(dir)); err == nil {
				fmt.Printf("sesh is already initialized in %s\n", metaDir)
				return nil
			}

			if err := config.Write(dir, config.Default()); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(metaDir, "workspaces"), 0o755); err != nil {
				return fmt.Errorf("create workspaces directory: %w", err)
			}

			fmt.Printf("Initialized sesh in %s\n", metaDir)
			fmt.Println("Edit config.yaml to pick a store backend and task backends.")
			return nil
		},
	}
}
