package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sesh version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version := Version
			if version == "dev" {
				if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
					version = info.Main.Version
				}
			}
			fmt.Printf("sesh %s\n", version)
			return nil
		},
	}
}
