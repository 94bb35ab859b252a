package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd gives the one-glance combined view of health and cooldown
// state, the two things an operator checks before trusting a schedule.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show health and cooldown status together",
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

			fmt.Printf("database:        ok=%v\n", h.DBOK)
			fmt.Printf("scheduler:       %s\n", h.SchedulerState)
			fmt.Printf("active jobs:     %d\n", h.ActiveJobs)
			fmt.Printf("agent available: %v\n", h.AgentAvailable)
			if cd.IsCooling {
				fmt.Printf("cooldown:        cooling, %ds remaining (source=%s)\n", cd.SecondsRemaining, cd.Source)
			} else {
				fmt.Println("cooldown:        none")
			}
			return nil
		},
	}
}
