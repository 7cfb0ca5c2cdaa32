package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/gate"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/ui"
)

// Matrix entry variables set by the compiled workflow.
const (
	envMatrixEntry = "RA_MATRIX_ENTRY"
	envOutputEntry = "RA_OUTPUT_ENTRY"
)

var admitCmd = &cobra.Command{
	Use:     "admit",
	GroupID: "pipeline",
	Short:   "Run the admission checks for one routed agent",
	Long: `Evaluate the ordered admission checks for the agent in $RA_MATRIX_ENTRY
against the current event, write the verdict and publish should_run.

Skipping is a normal outcome; the command fails only when the verdict
cannot be produced or written.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")

		entry, err := matrixEntryFromEnv(os.Getenv)
		if err != nil {
			FatalError("%v", err)
		}
		ev, err := loadEvent(cmd)
		if err != nil {
			FatalError("%v", err)
		}

		verdict, err := runAdmit(getRootContext(), mustPlatform(), entry, ev)
		if err != nil {
			FatalError("%v", err)
		}
		if err := writeJSONFile(out, verdict); err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(verdict)
		} else {
			printVerdict(verdict)
		}
		if err := writeStepOutputs(os.Getenv, os.Stdout, stepOutput{"should_run", boolString(verdict.ShouldRun)}); err != nil {
			FatalError("%v", err)
		}
	},
}

func init() {
	admitCmd.Flags().String("out", ".ra/verdict/verdict.json", "Verdict file to write")
	addEventFlags(admitCmd)
	rootCmd.AddCommand(admitCmd)
}

func matrixEntryFromEnv(getenv func(string) string) (types.MatrixEntry, error) {
	var entry types.MatrixEntry
	raw := getenv(envMatrixEntry)
	if raw == "" {
		return entry, fmt.Errorf("%s is not set", envMatrixEntry)
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, fmt.Errorf("failed to parse %s: %w", envMatrixEntry, err)
	}
	if entry.Config == nil {
		return entry, fmt.Errorf("%s carries no agent definition", envMatrixEntry)
	}
	return entry, nil
}

// newGate builds a gate with the configured identities and check policy.
func newGate(p platform.Reader) (*gate.Gate, error) {
	g := gate.New(p, *config.GateConfig(), logger)
	if err := gate.ApplyPolicy(g.Registry(), config.GatePolicy()); err != nil {
		return nil, err
	}
	return g, nil
}

func runAdmit(ctx context.Context, p platform.Reader, entry types.MatrixEntry, ev *types.Event) (types.ValidationVerdict, error) {
	g, err := newGate(p)
	if err != nil {
		return types.ValidationVerdict{}, err
	}
	return g.Admit(ctx, entry, ev)
}

func printVerdict(v types.ValidationVerdict) {
	if v.ShouldRun {
		fmt.Printf("%s %s admitted\n", ui.RenderPassIcon(), v.Agent)
	} else {
		fmt.Printf("%s %s skipped %s\n", ui.RenderSkipIcon(), v.Agent, ui.RenderMuted("("+v.SkipReason+")"))
	}
	for _, w := range v.Warnings {
		fmt.Printf("  %s %s\n", ui.RenderWarnIcon(), w)
	}
}
