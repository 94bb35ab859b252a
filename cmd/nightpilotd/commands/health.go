package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database, scheduler, and agent availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			h, err := a.Facade.GetSystemHealth(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("database:        ok=%v\n", h.DBOK)
			fmt.Printf("scheduler:       %s\n", h.SchedulerState)
			fmt.Printf("active jobs:     %d\n", h.ActiveJobs)
			fmt.Printf("agent available: %v\n", h.AgentAvailable)
			return nil
		},
	}
}
