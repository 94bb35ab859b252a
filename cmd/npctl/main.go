// Command npctl is the lean, fast-starting counterpart to nightpilotd:
// execute/status/cooldown only, for scripts and shell hooks that don't
// want the daemon's wizards or REPL pulled into their dependency path.
package main

import (
	"fmt"
	"os"

	"github.com/arcglyph/nightpilot/cmd/npctl/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
