package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "author",
	Short:   "List agent definitions",
	Long: `List the valid definitions under the agents directory with their
triggers and declared outputs. Files that fail validation are skipped
with a warning; run 'ra validate' for details.`,
	Run: func(cmd *cobra.Command, args []string) {
		defs := loadAgents(getRootContext(), agentsDir)
		if jsonOutput {
			rows := make([]agentRow, 0, len(defs))
			for _, def := range defs {
				rows = append(rows, newAgentRow(def))
			}
			outputJSON(rows)
			return
		}
		if len(defs) == 0 {
			fmt.Printf("No agents found in %s\n", agentsDir)
			return
		}
		for _, def := range defs {
			row := newAgentRow(def)
			fmt.Printf("%s %s\n", ui.RenderAccent(row.Name), ui.RenderMuted(row.Path))
			if def.Description != "" {
				fmt.Printf("  %s\n", def.Description)
			}
			fmt.Printf("  %son: %s\n", ui.TreeChild, strings.Join(row.Triggers, ", "))
			outs := "none"
			if len(row.Outputs) > 0 {
				outs = strings.Join(row.Outputs, ", ")
			}
			fmt.Printf("  %soutputs: %s\n", ui.TreeLast, outs)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

type agentRow struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Path     string   `json:"path"`
	Triggers []string `json:"triggers"`
	Outputs  []string `json:"outputs"`
}

func newAgentRow(def *types.AgentDefinition) agentRow {
	row := agentRow{
		Name:     def.Name,
		Slug:     types.NewMatrixEntry(def).Slug,
		Path:     def.Path,
		Triggers: []string{},
		Outputs:  []string{},
	}
	for _, t := range def.Triggers {
		s := string(t.Kind)
		if f := t.Filters(); len(f) > 0 {
			s += " [" + strings.Join(f, ", ") + "]"
		}
		row.Triggers = append(row.Triggers, s)
	}
	for _, k := range def.OutputKinds() {
		row.Outputs = append(row.Outputs, string(k))
	}
	return row
}
