package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show health and cooldown status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			h, err := a.Facade.GetSystemHealth(ctx)
			if err != nil {
				return err
			}
			cd, err := a.Facade.GetCooldownStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("db=%v scheduler=%s agent=%v cooling=%v\n", h.DBOK, h.SchedulerState, h.AgentAvailable, cd.IsCooling)
			return nil
		},
	}
}
