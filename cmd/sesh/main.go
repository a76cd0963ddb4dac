// Package main provides the entry point for the sesh CLI.
package main

import (
	"os"

	"github.com/randalmurphal/sesh/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
