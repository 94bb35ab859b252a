// Package commands implements nightpilotd's CLI surface using cobra.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/app"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nightpilotd",
		Short: "Claude Night Pilot - scheduled Claude CLI automation",
		Long: `nightpilotd schedules and runs prompts against the Claude CLI
unattended, tracking executions, retries, and cooldown windows.

Examples:
  nightpilotd prompt add "daily digest" --content "Summarize today's commits"
  nightpilotd job add <prompt-id> "0 9 * * *"
  nightpilotd serve
  nightpilotd status`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newPromptCmd(),
		newJobCmd(),
		newExecuteCmd(),
		newResultsCmd(),
		newStatusCmd(),
		newHealthCmd(),
		newCooldownCmd(),
		newVaultCmd(),
		newServeCmd(),
		newReplCmd(),
	)

	return rootCmd
}

// bootstrap loads the app collaborators from the root command's
// persistent --config/--verbose flags.
func bootstrap(cmd *cobra.Command) (*app.App, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	return app.Bootstrap(configPath, verbose)
}
