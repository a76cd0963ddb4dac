// Package cli provides error handling utilities for CLI output.
package cli

import (
	"fmt"
	"os"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// Structured errors use the what/why/fix format; anything else falls
// back to a plain message.
func PrintError(err error) {
	if se := sesherr.AsSeshError(err); se != nil {
		fmt.Fprintln(os.Stderr, se.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", se.Code)
			if se.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", se.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
