package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the agent CLI's auth token in the OS keyring",
	}
	cmd.AddCommand(newVaultSetCmd(), newVaultClearCmd(), newVaultStatusCmd())
	return cmd
}

func newVaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Prompt for the agent token and store it in the OS keyring",
		RunE: func(*cobra.Command, []string) error {
			token, err := vault.PromptMasked("agent token: ")
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			return vault.Store(token)
		},
	}
}

func newVaultClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the agent token from the OS keyring",
		RunE: func(*cobra.Command, []string) error {
			return vault.Delete()
		},
	}
}

func newVaultStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the OS keyring is reachable and a token is set",
		RunE: func(*cobra.Command, []string) error {
			fmt.Printf("keyring available: %v\n", vault.Available())
			fmt.Printf("token configured:  %v\n", vault.Resolve() != "")
			return nil
		},
	}
}
