package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage reusable prompt templates",
	}
	cmd.AddCommand(
		newPromptAddCmd(),
		newPromptListCmd(),
		newPromptShowCmd(),
		newPromptUpdateCmd(),
		newPromptRemoveCmd(),
	)
	return cmd
}

func newPromptAddCmd() *cobra.Command {
	var content string
	var tags string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if content == "" {
				return newWizardPromptAdd(cmd, args[0])
			}
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := a.Facade.CreatePrompt(context.Background(), args[0], content, splitTags(tags))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "prompt body; omit to launch the interactive wizard")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	return cmd
}

func newPromptListCmd() *cobra.Command {
	var tag, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			prompts, err := a.Facade.ListPrompts(context.Background(), store.ListPromptsOptions{Tag: tag, Search: search})
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				fmt.Println("no prompts")
				return nil
			}
			for _, p := range prompts {
				fmt.Printf("%s\t%s\t%s\n", p.ID, p.Title, strings.Join(p.Tags, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&search, "search", "", "filter by title/content substring")
	return cmd
}

func newPromptShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.Facade.GetPrompt(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:      %s\ntitle:   %s\ntags:    %s\ncontent:\n%s\n", p.ID, p.Title, strings.Join(p.Tags, ","), p.Content)
			return nil
		},
	}
}

func newPromptUpdateCmd() *cobra.Command {
	var title, content, tags string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a prompt's title, content, or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			var titlePtr, contentPtr *string
			if cmd.Flags().Changed("title") {
				titlePtr = &title
			}
			if cmd.Flags().Changed("content") {
				contentPtr = &content
			}
			var tagList []string
			if cmd.Flags().Changed("tags") {
				tagList = splitTags(tags)
			}
			return a.Facade.UpdatePrompt(context.Background(), args[0], titlePtr, contentPtr, tagList)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&tags, "tags", "", "new comma-separated tags")
	return cmd
}

func newPromptRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Facade.DeletePrompt(context.Background(), args[0])
		},
	}
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
