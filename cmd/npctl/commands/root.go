// Package commands implements npctl's narrow CLI surface using cobra.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/app"
)

// NewRootCmd builds the root command for the fast-path client: execute,
// status, and cooldown only, no wizards, no REPL, no prompt/job CRUD.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "npctl",
		Short:   "Fast-path client for Claude Night Pilot",
		Version: version,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newExecuteCmd(),
		newStatusCmd(),
		newCooldownCmd(),
	)

	return rootCmd
}

func bootstrap(cmd *cobra.Command) (*app.App, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	return app.Bootstrap(configPath, verbose)
}
