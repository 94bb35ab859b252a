package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(
		newJobAddCmd(),
		newJobListCmd(),
		newJobShowCmd(),
		newJobPauseCmd(),
		newJobResumeCmd(),
		newJobTriggerCmd(),
		newJobRemoveCmd(),
	)
	return cmd
}

func newJobAddCmd() *cobra.Command {
	var timeout time.Duration
	var stagger, exact, dangerMode bool
	var priority int
	var at string

	cmd := &cobra.Command{
		Use:   "add [prompt-id] [cron-expression]",
		Short: "Create a recurring job, or a one-shot job with --at; run with no arguments for an interactive wizard",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && at == "" {
				return newWizardJobAdd(cmd)
			}

			var runAt *time.Time
			if at != "" {
				parsed, err := parseRunAt(at)
				if err != nil {
					return err
				}
				runAt = &parsed
			}
			if runAt == nil && len(args) < 2 {
				return fmt.Errorf("a cron expression is required unless --at is given")
			}
			if len(args) == 0 {
				return fmt.Errorf("a prompt id is required")
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := model.DefaultExecutionOptions()
			if timeout > 0 {
				opts.Timeout = timeout
			}
			opts.Stagger = stagger
			opts.Exact = exact
			opts.DangerMode = dangerMode

			cronExpr := ""
			if len(args) == 2 {
				cronExpr = args[1]
			}

			id, err := a.Facade.CreateJob(context.Background(), args[0], cronExpr, runAt, opts, model.DefaultRetryConfig())
			if err != nil {
				return err
			}
			if priority != 0 {
				p := priority
				if err := a.Facade.UpdateJob(context.Background(), id, nil, nil, &p, nil, nil); err != nil {
					return err
				}
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-execution timeout (defaults to 5m)")
	cmd.Flags().BoolVar(&stagger, "stagger", false, "jitter dispatch within the hour for top-of-hour schedules")
	cmd.Flags().BoolVar(&exact, "exact", false, "disable stagger even for a qualifying schedule")
	cmd.Flags().BoolVar(&dangerMode, "danger-mode", false, "pass the agent's unrestricted permission flag")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority value stored with the job (dispatch order does not use it)")
	cmd.Flags().StringVar(&at, "at", "", "create a one-shot job that fires once at this time instead of a recurring one (RFC3339, or a duration like \"+10m\" from now)")
	return cmd
}

// parseRunAt accepts an RFC3339 timestamp or a "+<duration>" offset from
// now, e.g. "+90s", "+10m", "+2h".
func parseRunAt(s string) (time.Time, error) {
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at offset %q: %w", s, err)
		}
		return time.Now().Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at time %q: expected RFC3339 or \"+<duration>\": %w", s, err)
	}
	return t, nil
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			jobs, err := a.Facade.ListJobs(context.Background())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				next := "-"
				if j.NextRunAt != nil {
					next = j.NextRunAt.Format(time.RFC3339)
				}
				fmt.Printf("%s\t%s\t%s\t%s\tnext=%s\n", j.ID, j.PromptID, j.Cron, j.Status, next)
			}
			return nil
		},
	}
}

func newJobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			j, err := a.Facade.GetJob(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:              %s\nprompt:          %s\ncron:            %s\nstatus:          %s\npriority:        %d\nexecutions:      %d\nfailures:        %d\nconsecutive:     %d\n",
				j.ID, j.PromptID, j.Cron, j.Status, j.Priority, j.ExecutionCount, j.FailureCount, j.ConsecutiveFailures)
			return nil
		},
	}
}

func newJobPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Facade.Pause(context.Background(), args[0])
		},
	}
}

func newJobResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Facade.Resume(context.Background(), args[0])
		},
	}
}

func newJobTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <id>",
		Short: "Run a job immediately, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			// The scheduler loop isn't running in a one-shot CLI invocation,
			// so dispatch happens synchronously on this goroutine; no
			// separate Start() call is needed for a single trigger.
			if err := a.Facade.TriggerNow(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("triggered; see `nightpilotd results --job %s` for the outcome\n", args[0])
			return nil
		},
	}
}

func newJobRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Facade.DeleteJob(context.Background(), args[0])
		},
	}
}
