// Command nightpilotd is the full-feature CLI and daemon for nightpilot:
// prompt/job authoring, ad-hoc execution, execution history, system
// status, and a scheduler daemon with optional interactive REPL.
package main

import (
	"fmt"
	"os"

	"github.com/arcglyph/nightpilot/cmd/nightpilotd/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
