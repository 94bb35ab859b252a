package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/app"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

// newReplCmd opens an interactive line-editing shell over the same
// facade the one-shot subcommands use, for operators who want to poke
// around without re-typing --config on every invocation.
func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Open an interactive shell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "nightpilot> ",
				HistoryFile:     "",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			ctx := context.Background()
			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}

				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				if fields[0] == "exit" || fields[0] == "quit" {
					return nil
				}
				if err := runReplCommand(ctx, a, fields); err != nil {
					fmt.Println("error:", err)
				}
			}
		},
	}
}

func runReplCommand(ctx context.Context, a *app.App, fields []string) error {
	switch fields[0] {
	case "help":
		fmt.Println("commands: prompts, jobs, status, cooldown, trigger <job-id>, exit")
		return nil
	case "prompts":
		prompts, err := a.Facade.ListPrompts(ctx, store.ListPromptsOptions{})
		if err != nil {
			return err
		}
		for _, p := range prompts {
			fmt.Printf("%s\t%s\n", p.ID, p.Title)
		}
		return nil
	case "jobs":
		jobs, err := a.Facade.ListJobs(ctx)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Printf("%s\t%s\t%s\n", j.ID, j.Cron, j.Status)
		}
		return nil
	case "status":
		h, err := a.Facade.GetSystemHealth(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("db=%v scheduler=%s agent=%v\n", h.DBOK, h.SchedulerState, h.AgentAvailable)
		return nil
	case "cooldown":
		cd, err := a.Facade.GetCooldownStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cooling=%v remaining=%ds\n", cd.IsCooling, cd.SecondsRemaining)
		return nil
	case "trigger":
		if len(fields) != 2 {
			return fmt.Errorf("usage: trigger <job-id>")
		}
		return a.Facade.TriggerNow(ctx, fields[1])
	default:
		return fmt.Errorf("unknown command %q, try `help`", fields[0])
	}
}
