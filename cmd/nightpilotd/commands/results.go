package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

func newResultsCmd() *cobra.Command {
	var jobID string
	var limit int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showExecution(cmd, args[0])
			}
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := store.ListExecutionsOptions{Limit: limit}
			if jobID != "" {
				opts.JobID = &jobID
			}
			execs, err := a.Facade.ListExecutions(context.Background(), opts)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Println("no executions")
				return nil
			}
			for _, e := range execs {
				job := "-"
				if e.JobID != nil {
					job = *e.JobID
				}
				fmt.Printf("%s\tjob=%s\t%s\t%s\n", e.ID, job, e.Status, e.StartInstant.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "filter by job id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Args = cobra.MaximumNArgs(1)
	return cmd
}

func showExecution(cmd *cobra.Command, id string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	e, err := a.Facade.GetExecution(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("id:        %s\nstatus:    %s\nstarted:   %s\nretries:   %d\n", e.ID, e.Status, e.StartInstant, e.RetryIndex)
	if e.ErrorMessage != "" {
		fmt.Printf("error:     %s (%s)\n", e.ErrorMessage, e.ErrorKind)
	}
	if e.ResultPayload != "" {
		fmt.Printf("result:\n%s\n", e.ResultPayload)
	}
	return nil
}
