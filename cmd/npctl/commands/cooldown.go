package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCooldownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cooldown",
		Short: "Report whether the agent is currently quota-cooling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			status, err := a.Facade.GetCooldownStatus(context.Background())
			if err != nil {
				return err
			}
			if !status.IsCooling {
				fmt.Println("not cooling")
				return nil
			}
			fmt.Printf("cooling: %ds remaining (source=%s)\n", status.SecondsRemaining, status.Source)
			return nil
		},
	}
}
