package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/app"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

func newExecuteCmd() *cobra.Command {
	var promptID, promptFile, workingDir string
	var timeout time.Duration
	var dangerMode bool

	cmd := &cobra.Command{
		Use:   "execute [prompt-text]",
		Short: "Run a prompt once and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			content, err := resolveContent(cmd, a, promptID, promptFile, args)
			if err != nil {
				return err
			}

			opts := model.DefaultExecutionOptions()
			if timeout > 0 {
				opts.Timeout = timeout
			}
			opts.DangerMode = dangerMode
			opts.WorkingDirectory = workingDir

			ctx := context.Background()
			sum := sha256.Sum256([]byte(content))
			execID, err := a.Store.BeginExecution(ctx, nil, hex.EncodeToString(sum[:]), time.Now())
			if err != nil {
				return err
			}

			res, execErr := a.Executor.Execute(ctx, content, workingDir, opts)
			outcome := store.Outcome{EndInstant: time.Now()}
			if execErr != nil {
				outcome.Status = model.ExecFailed
				outcome.ErrorKind = model.KindIOError
				outcome.ErrorMessage = execErr.Error()
			} else {
				outcome.Status = res.Status
				outcome.RawOutput = res.RawOutput
				outcome.OutputTruncated = res.OutputTruncated
				outcome.ResultPayload = res.ResultPayload
				outcome.ErrorKind = res.ErrorKind
				outcome.ErrorMessage = res.ErrorMessage
				outcome.CostEstimate = res.CostEstimate
				outcome.Usage = res.Usage
			}
			if err := a.Store.FinishExecution(ctx, execID, outcome); err != nil {
				return err
			}

			if outcome.Status != model.ExecCompleted {
				fmt.Fprintf(os.Stderr, "execution %s: %s (%s)\n", outcome.Status, outcome.ErrorMessage, outcome.ErrorKind)
				os.Exit(1)
			}
			fmt.Println(outcome.ResultPayload)
			return nil
		},
	}
	cmd.Flags().StringVar(&promptID, "prompt", "", "run a stored prompt by id")
	cmd.Flags().StringVar(&promptFile, "file", "", "read prompt content from a file")
	cmd.Flags().StringVar(&workingDir, "dir", "", "working directory for the agent invocation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout (defaults to 5m)")
	cmd.Flags().BoolVar(&dangerMode, "danger-mode", false, "pass the agent's unrestricted permission flag")
	return cmd
}

func resolveContent(cmd *cobra.Command, a *app.App, promptID, promptFile string, args []string) (string, error) {
	switch {
	case promptID != "":
		p, err := a.Facade.GetPrompt(cmd.Context(), promptID)
		if err != nil {
			return "", err
		}
		return p.Content, nil
	case promptFile != "":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("reading %q: %w", promptFile, err)
		}
		return string(data), nil
	case len(args) > 0:
		return args[0], nil
	default:
		return "", fmt.Errorf("provide a prompt: positional text, --file, or --prompt")
	}
}
