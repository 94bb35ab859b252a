package commands

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

// newWizardPromptAdd runs an interactive huh form to fill in the fields
// `prompt add` needs when --content was omitted.
func newWizardPromptAdd(cmd *cobra.Command, title string) error {
	var content, tags string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().Title("Prompt content").Value(&content).Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("content cannot be empty")
				}
				return nil
			}),
			huh.NewInput().Title("Tags (comma-separated)").Value(&tags),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := a.Facade.CreatePrompt(context.Background(), title, content, splitTags(tags))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// newWizardJobAdd runs an interactive huh form to pick a prompt and a
// schedule when `job add` is invoked with no arguments and no --at flag.
func newWizardJobAdd(cmd *cobra.Command) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	prompts, err := a.Facade.ListPrompts(ctx, store.ListPromptsOptions{})
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts exist yet; create one with `prompt add` first")
	}

	options := make([]huh.Option[string], len(prompts))
	for i, p := range prompts {
		options[i] = huh.NewOption(fmt.Sprintf("%s (%s)", p.Title, p.ID), p.ID)
	}

	var promptID, cronExpr string
	var stagger bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Prompt").Options(options...).Value(&promptID),
			huh.NewInput().Title("Cron expression").Placeholder("0 9 * * *").Value(&cronExpr),
			huh.NewConfirm().Title("Stagger within the hour?").Value(&stagger),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	opts := model.DefaultExecutionOptions()
	opts.Stagger = stagger
	id, err := a.Facade.CreateJob(ctx, promptID, cronExpr, nil, opts, model.DefaultRetryConfig())
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
