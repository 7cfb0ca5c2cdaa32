package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/compiler"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/router"
	"github.com/steveyegge/repoagents/internal/types"
)

var routeCmd = &cobra.Command{
	Use:     "route",
	GroupID: "pipeline",
	Short:   "Select the agents that subscribe to the current event",
	Long: `Match the workflow's triggering event against every agent definition and
publish the agent and output matrices as step outputs.

Outside a workflow, pass --event-file and --event-name to route a saved
payload; the matrices are printed instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		ev, err := loadEvent(cmd)
		if errors.Is(err, event.ErrUnsupported) {
			logger.Info("event is not routable", "error", err)
			ev = nil
		} else if err != nil {
			FatalError("%v", err)
		}

		var p platform.Reader
		if ev != nil && ev.Kind == types.TriggerIssues && ev.Action == "closed" {
			p = mustPlatform()
		}

		res, err := runRoute(getRootContext(), p, agentsDir, ev)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		if err := res.publish(os.Getenv, os.Stdout); err != nil {
			FatalError("%v", err)
		}
	},
}

func init() {
	addEventFlags(routeCmd)
	rootCmd.AddCommand(routeCmd)
}

// addEventFlags registers flags for reading an event from a file.
func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("event-file", "", "Read the event from a payload or snapshot file instead of the runner environment")
	cmd.Flags().String("event-name", "", "Event name for --event-file payloads (omit for snapshots)")
}

// loadEvent reads the triggering event from --event-file or the runner.
func loadEvent(cmd *cobra.Command) (*types.Event, error) {
	if path, _ := cmd.Flags().GetString("event-file"); path != "" {
		name, _ := cmd.Flags().GetString("event-name")
		return event.Load(path, name)
	}
	return event.FromEnv(os.Getenv)
}

type routeResult struct {
	Agents  []types.MatrixEntry       `json:"agents"`
	Outputs []types.OutputMatrixEntry `json:"outputs"`
}

// runRoute discovers definitions and routes ev. A nil event routes to
// nothing.
func runRoute(ctx context.Context, p platform.Reader, dir string, ev *types.Event) (*routeResult, error) {
	res := &routeResult{Agents: []types.MatrixEntry{}, Outputs: []types.OutputMatrixEntry{}}
	if ev == nil {
		return res, nil
	}
	defs := loadAgents(ctx, dir)
	if len(defs) == 0 {
		logger.Warn("no valid agent definitions", "dir", dir)
		return res, nil
	}

	entries := router.New(p, logger).Route(ctx, defs, ev)
	if len(entries) > 0 {
		res.Agents = entries
	}
	if rows := types.OutputMatrix(entries); len(rows) > 0 {
		res.Outputs = rows
	}
	logger.Info("event routed", "event", ev.Kind, "action", ev.Action,
		"agents", len(res.Agents), "outputs", len(res.Outputs))
	return res, nil
}

func (r *routeResult) publish(getenv func(string) string, fallback io.Writer) error {
	agents, err := compactJSON(r.Agents)
	if err != nil {
		return fmt.Errorf("failed to encode agent matrix: %w", err)
	}
	outs, err := compactJSON(r.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode output matrix: %w", err)
	}
	return writeStepOutputs(getenv, fallback,
		stepOutput{compiler.RouteOutputAgents, agents},
		stepOutput{compiler.RouteOutputOutputs, outs},
		stepOutput{compiler.RouteOutputHasAgents, boolString(len(r.Agents) > 0)},
		stepOutput{compiler.RouteOutputHasOutputs, boolString(len(r.Outputs) > 0)},
	)
}
