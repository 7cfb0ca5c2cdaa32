package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

// Variables passed to the execution command.
const (
	envAgent        = "RA_AGENT"
	envAgentSlug    = "RA_AGENT_SLUG"
	envInstructions = "RA_INSTRUCTIONS_FILE"
	envContextFile  = "RA_CONTEXT_FILE"
	envEventFile    = "RA_EVENT_FILE"
	envOutputsDir   = "RA_OUTPUTS_DIR"
	envModel        = "RA_MODEL"
	envMaxTokens    = "RA_MAX_TOKENS"
)

// eventSnapshotFile is written next to the execution status so the
// outputs stage sees the same subject as execution.
const eventSnapshotFile = "event.json"

const defaultOutputsDir = ".ra/outputs"

// waitDelay bounds how long a cancelled command may hold its output pipes.
const waitDelay = 10 * time.Second

var executeCmd = &cobra.Command{
	Use:     "execute",
	GroupID: "pipeline",
	Short:   "Run the execution command for an admitted agent",
	Long: `Run the configured execution.command for the agent in $RA_MATRIX_ENTRY.

The command receives the agent's instructions, collected context and the
admitted event through RA_* environment variables and writes proposed
outputs as <outputs-dir>/<kind>.json. Its result is recorded in the
execution status file for the outputs and audit stages.`,
	Run: func(cmd *cobra.Command, args []string) {
		verdictPath, _ := cmd.Flags().GetString("verdict")
		contextPath, _ := cmd.Flags().GetString("context")
		outputsDir, _ := cmd.Flags().GetString("outputs-dir")
		statusPath, _ := cmd.Flags().GetString("status")
		if !cmd.Flags().Changed("outputs-dir") {
			outputsDir = config.GetString(config.KeyOutputsDir)
		}

		entry, err := matrixEntryFromEnv(os.Getenv)
		if err != nil {
			FatalError("%v", err)
		}
		var verdict types.ValidationVerdict
		if _, err := readJSONFile(verdictPath, &verdict); err != nil {
			FatalError("%v", err)
		}

		status := runExecute(getRootContext(), executeRequest{
			Def:        entry.Config,
			Verdict:    &verdict,
			Command:    config.GetString(config.KeyExecutionCommand),
			Timeout:    config.GetDuration(config.KeyExecutionTimeout),
			Context:    contextPath,
			OutputsDir: outputsDir,
			StatusDir:  filepath.Dir(statusPath),
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
		})
		if err := writeJSONFile(statusPath, status); err != nil {
			FatalError("%v", err)
		}
		if status.Status == types.StatusFailure {
			FatalError("agent %s failed: %s", status.Agent, status.Reason)
		}
	},
}

func init() {
	executeCmd.Flags().String("verdict", ".ra/verdict/verdict.json", "Verdict from the admission stage")
	executeCmd.Flags().String("context", ".ra/context.md", "Collected context file")
	executeCmd.Flags().String("outputs-dir", defaultOutputsDir, "Directory the command writes proposed outputs to")
	executeCmd.Flags().String("status", ".ra/execution/status.json", "Execution status file to write")
	rootCmd.AddCommand(executeCmd)
}

type executeRequest struct {
	Def        *types.AgentDefinition
	Verdict    *types.ValidationVerdict
	Command    string
	Timeout    time.Duration
	Context    string
	OutputsDir string
	StatusDir  string
	Stdout     io.Writer
	Stderr     io.Writer
}

// runExecute runs the execution command and reports its outcome. It never
// returns an error: every failure becomes a failure status for audit.
func runExecute(ctx context.Context, req executeRequest) types.ExecutionStatus {
	def := req.Def
	status := types.ExecutionStatus{Agent: def.Name, StartedAt: time.Now().UTC()}
	finish := func(s, reason string) types.ExecutionStatus {
		status.Status = s
		status.Reason = reason
		status.FinishedAt = time.Now().UTC()
		return status
	}

	if req.Verdict == nil || !req.Verdict.ShouldRun {
		return finish(types.StatusSkipped, "agent was not admitted")
	}
	if req.Command == "" {
		return finish(types.StatusFailure, "no execution command configured (set "+config.KeyExecutionCommand+")")
	}

	for _, dir := range []string{req.OutputsDir, req.StatusDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return finish(types.StatusFailure, err.Error())
		}
	}
	instructions := filepath.Join(req.StatusDir, "instructions.md")
	if err := os.WriteFile(instructions, []byte(def.Instructions), 0o644); err != nil { //nolint:gosec // instructions are public repository content
		return finish(types.StatusFailure, err.Error())
	}
	eventFile := filepath.Join(req.StatusDir, eventSnapshotFile)
	if len(req.Verdict.Snapshot) > 0 {
		if err := os.WriteFile(eventFile, req.Verdict.Snapshot, 0o644); err != nil { //nolint:gosec // event payloads are visible to workflow readers
			return finish(types.StatusFailure, err.Error())
		}
	}

	timeout := req.Timeout
	if def.TimeoutMinutes > 0 {
		timeout = time.Duration(def.TimeoutMinutes) * time.Minute
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command) //nolint:gosec // command comes from repository config
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(),
		envAgent+"="+def.Name,
		envAgentSlug+"="+util.Slugify(def.Name),
		envInstructions+"="+instructions,
		envContextFile+"="+req.Context,
		envEventFile+"="+eventFile,
		envOutputsDir+"="+req.OutputsDir,
		envModel+"="+def.Model.Name,
		envMaxTokens+"="+strconv.Itoa(def.Model.MaxTokens),
	)

	logger.Info("starting agent", "agent", def.Name, "timeout", timeout)
	err := cmd.Run()
	if cmd.ProcessState != nil {
		status.ExitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return finish(types.StatusFailure, fmt.Sprintf("timed out after %s", timeout))
	case err != nil:
		return finish(types.StatusFailure, fmt.Sprintf("execution command failed: %v", err))
	}
	logger.Info("agent finished", "agent", def.Name, "duration", time.Since(status.StartedAt))
	return finish(types.StatusSuccess, "")
}

// executedEvent returns the event snapshot written by execution, falling
// back to the runner environment.
func executedEvent(cmd *cobra.Command, statusDir string) (*types.Event, error) {
	data, err := os.ReadFile(filepath.Join(statusDir, eventSnapshotFile)) //nolint:gosec // path from flags
	if err == nil {
		return event.FromSnapshot(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read event snapshot: %w", err)
	}
	return loadEvent(cmd)
}
