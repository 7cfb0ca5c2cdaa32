package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show <name>",
	GroupID: "author",
	Short:   "Show one agent definition",
	Long: `Show a parsed definition: its triggers, permissions, outputs and gate
settings, followed by the instructions rendered as markdown.

Definitions are Markdown files with a YAML (---) or TOML (+++) front
matter block:

  ---
  name: Issue Triage
  on:
    issues:
      types: [opened]
  permissions:
    issues: write
  outputs:
    add-label: {}
  ---
  Read the issue and apply one area label.

Agents are looked up by name, case-insensitively, or by slug.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		def, err := findAgent(loadAgents(getRootContext(), agentsDir), args[0])
		if err != nil {
			FatalErrorWithHint(err.Error(), "run 'ra list' to see available agents")
		}
		if jsonOutput {
			outputJSON(def)
			return
		}

		row := newAgentRow(def)
		fmt.Printf("%s %s\n", ui.RenderAccent(def.Name), ui.RenderMuted(def.Path))
		if def.Description != "" {
			fmt.Println(def.Description)
		}
		fmt.Println()
		field := func(label, value string) {
			fmt.Printf("  %-14s %s\n", label+":", value)
		}
		field("slug", row.Slug)
		field("on", strings.Join(row.Triggers, "; "))
		if len(def.Permissions) > 0 {
			perms := make([]string, 0, len(def.Permissions))
			for _, r := range def.Permissions.SortedResources() {
				perms = append(perms, fmt.Sprintf("%s=%s", r, def.Permissions[r]))
			}
			field("permissions", strings.Join(perms, ", "))
		}
		if len(row.Outputs) > 0 {
			field("outputs", strings.Join(row.Outputs, ", "))
		}
		if def.RateLimit.Minutes > 0 {
			field("rate limit", fmt.Sprintf("%d minutes", def.RateLimit.Minutes))
		}
		if def.MaxOpenPRs > 0 {
			field("max open PRs", fmt.Sprintf("%d", def.MaxOpenPRs))
		}
		if def.Model.Name != "" {
			field("model", def.Model.Name)
		}

		if def.Instructions == "" {
			return
		}
		fmt.Println()
		body := ui.RenderMarkdown(def.Instructions)
		if !full {
			body = ui.TruncateLines(body, ui.DefaultMaxLines, ui.DefaultContextLines)
		}
		fmt.Println(body)
	},
}

func init() {
	showCmd.Flags().Bool("full", false, "Show the full instructions without truncation")
	rootCmd.AddCommand(showCmd)
}
