package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/outputs"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

var outputsCmd = &cobra.Command{
	Use:     "outputs",
	GroupID: "pipeline",
	Short:   "Validate and apply one agent's proposed outputs of one kind",
	Long: `Apply the proposals in <outputs-dir>/<kind>.json for the agent and kind
in $RA_OUTPUT_ENTRY, after checking them against the agent's declared
output constraints. The result is written to the results directory for
the audit stage.`,
	Run: func(cmd *cobra.Command, args []string) {
		outputsDir, _ := cmd.Flags().GetString("outputs-dir")
		resultsDir, _ := cmd.Flags().GetString("results-dir")
		statusDir, _ := cmd.Flags().GetString("execution-dir")
		if !cmd.Flags().Changed("outputs-dir") {
			outputsDir = config.GetString(config.KeyOutputsDir)
		}

		row, err := outputEntryFromEnv(os.Getenv)
		if err != nil {
			FatalError("%v", err)
		}
		ctx := getRootContext()
		def, err := findAgent(loadAgents(ctx, agentsDir), row.Agent)
		if err != nil {
			FatalErrorWithHint(err.Error(), "the agent definition must still exist in "+agentsDir)
		}
		ev, err := executedEvent(cmd, statusDir)
		if err != nil {
			WarnError("no event available; proposals must name their issue: %v", err)
		}

		res, err := runOutputs(ctx, mustPlatform(), def, row.Kind, ev, outputsDir, resultsDir)
		if jsonOutput {
			outputJSON(res)
		}
		if err != nil {
			FatalError("%v", err)
		}
	},
}

func init() {
	outputsCmd.Flags().String("outputs-dir", defaultOutputsDir, "Directory holding the proposed outputs")
	outputsCmd.Flags().String("results-dir", ".ra/results", "Directory to write the output result to")
	outputsCmd.Flags().String("execution-dir", ".ra/execution", "Execution artifact directory holding the event snapshot")
	addEventFlags(outputsCmd)
	rootCmd.AddCommand(outputsCmd)
}

func outputEntryFromEnv(getenv func(string) string) (types.OutputMatrixEntry, error) {
	var row types.OutputMatrixEntry
	raw := getenv(envOutputEntry)
	if raw == "" {
		return row, fmt.Errorf("%s is not set", envOutputEntry)
	}
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return row, fmt.Errorf("failed to parse %s: %w", envOutputEntry, err)
	}
	if row.Agent == "" || row.Kind == "" {
		return row, fmt.Errorf("%s must name an agent and an output kind", envOutputEntry)
	}
	return row, nil
}

// resultFile names the result of one (agent, kind) pair.
func resultFile(dir, slug string, kind types.OutputKind) string {
	return filepath.Join(dir, slug+"-"+string(kind)+".json")
}

// runOutputs applies proposals and always writes the result file. The
// returned error is non-nil when the proposals were rejected or failed.
func runOutputs(ctx context.Context, w platform.Writer, def *types.AgentDefinition, kind types.OutputKind, ev *types.Event, outputsDir, resultsDir string) (types.OutputResult, error) {
	executor := outputs.NewExecutor(w, logger)
	if ev != nil && ev.Item != nil {
		executor.DefaultNumber = ev.Item.Number
	}
	res, runErr := executor.Run(ctx, def, kind, outputsDir)

	slug := types.NewMatrixEntry(def).Slug
	if err := writeJSONFile(resultFile(resultsDir, slug, kind), res); err != nil {
		return res, err
	}
	return res, runErr
}

// loadResults reads every output result in dir.
func loadResults(dir string) ([]types.OutputResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var results []types.OutputResult
	for _, p := range paths {
		var r types.OutputResult
		if _, err := readJSONFile(p, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
