package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/collect"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

var contextCmd = &cobra.Command{
	Use:     "context",
	GroupID: "pipeline",
	Short:   "Collect repository context for an admitted agent",
	Long: `Gather the recent issues and pull requests an agent asked for and write
them as markdown for the execution step.

When fewer items than the agent's min_items are found, the run is marked
skipped and skip=true is published so execution does not start.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		statusPath, _ := cmd.Flags().GetString("status")
		verdictPath, _ := cmd.Flags().GetString("verdict")

		entry, err := matrixEntryFromEnv(os.Getenv)
		if err != nil {
			FatalError("%v", err)
		}
		ev, err := admittedEvent(cmd, verdictPath)
		if err != nil {
			FatalError("%v", err)
		}

		var p platform.Reader
		if entry.Config.Context != nil {
			p = mustPlatform()
		}
		skip, err := runContext(getRootContext(), p, entry.Config, ev, out, statusPath)
		if err != nil {
			FatalError("%v", err)
		}
		if err := writeStepOutputs(os.Getenv, os.Stdout, stepOutput{"skip", boolString(skip)}); err != nil {
			FatalError("%v", err)
		}
	},
}

func init() {
	contextCmd.Flags().String("out", ".ra/context.md", "Context file to write")
	contextCmd.Flags().String("status", ".ra/execution/status.json", "Execution status file written when the run is skipped")
	contextCmd.Flags().String("verdict", ".ra/verdict/verdict.json", "Verdict whose event snapshot is used when present")
	addEventFlags(contextCmd)
	rootCmd.AddCommand(contextCmd)
}

// admittedEvent prefers the snapshot the admission stage recorded, which
// carries a retargeted subject after a blocking retry.
func admittedEvent(cmd *cobra.Command, verdictPath string) (*types.Event, error) {
	var verdict types.ValidationVerdict
	ok, err := readJSONFile(verdictPath, &verdict)
	if err != nil {
		return nil, err
	}
	if ok && len(verdict.Snapshot) > 0 {
		return event.FromSnapshot(verdict.Snapshot)
	}
	return loadEvent(cmd)
}

// runContext writes the context file. It reports skip=true, after writing
// a skipped execution status, when the collection is below threshold.
func runContext(ctx context.Context, p platform.Reader, def *types.AgentDefinition, ev *types.Event, out, statusPath string) (bool, error) {
	bundle, err := collect.Collect(ctx, collect.Config{Context: def.Context, Event: ev, Platform: p})
	if errors.Is(err, collect.ErrBelowThreshold) {
		now := time.Now().UTC()
		status := types.ExecutionStatus{
			Agent:      def.Name,
			Status:     types.StatusSkipped,
			Reason:     err.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
		logger.Info("not enough context; skipping execution", "agent", def.Name, "items", bundle.Count())
		return true, writeJSONFile(statusPath, status)
	}
	if err != nil {
		return false, fmt.Errorf("collect context for %s: %w", def.Name, err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(out), err)
	}
	if err := os.WriteFile(out, []byte(bundle.Markdown()), 0o644); err != nil { //nolint:gosec // context is uploaded with the run
		return false, fmt.Errorf("failed to write context: %w", err)
	}
	logger.Info("context collected", "agent", def.Name, "items", bundle.Count())
	return false, nil
}
