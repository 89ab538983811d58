// Package cli implements the curator command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/bootstrap"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize curator in current directory",
		Long: `Initialize curator in the current directory.

Creates the .curator directory with a default config, the project
database, and the knowledge-base skeleton, and seeds any schedules
declared in config.

Examples:
  curator init              # Initialize with defaults
  curator init --force      # Reinitialize existing project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			result, err := bootstrap.Run(bootstrap.Options{
				Force:  force,
				Logger: newLogger(),
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(result)
			}
			bootstrap.PrintResult(result)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite existing configuration")

	return cmd
}
