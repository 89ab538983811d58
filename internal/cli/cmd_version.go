// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Populated at build time via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = ""
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show curator version",
		Run: func(cmd *cobra.Command, args []string) {
			if commit != "" {
				fmt.Printf("curator version %s (%s, %s)\n", version, commit, runtime.Version())
				return
			}
			fmt.Printf("curator version %s (%s)\n", version, runtime.Version())
		},
	}
}
