package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newServeCmd starts the scheduler daemon: it polls for due jobs, replays
// anything missed while nightpilotd was down, and dispatches executions
// until a shutdown signal arrives.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := a.Scheduler.Start(ctx); err != nil {
				return fmt.Errorf("starting scheduler: %w", err)
			}

			a.Logger.Info("nightpilotd running, press Ctrl+C to stop",
				"agent", a.Config.Agent.Path,
				"max_concurrent", a.Config.Scheduler.MaxConcurrentExecutions)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			a.Logger.Info("shutdown signal received, draining in-flight executions")
			a.Scheduler.Stop(a.Config.Scheduler.ShutdownTimeout)
			a.Logger.Info("shutdown complete")
			return nil
		},
	}
}
