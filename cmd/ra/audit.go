package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/audit"
	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "pipeline",
	Short:   "Record the outcome of one agent's run",
	Long: `Combine the verdict, execution status and output results of the agent in
$RA_MATRIX_ENTRY into an audit record, and open a tracking issue when a
failed run's definition asks for one.

Audit problems are reported as warnings; this command does not fail the
workflow.`,
	Run: func(cmd *cobra.Command, args []string) {
		verdictPath, _ := cmd.Flags().GetString("verdict")
		statusPath, _ := cmd.Flags().GetString("status")
		resultsDir, _ := cmd.Flags().GetString("results-dir")
		logPath, _ := cmd.Flags().GetString("log")
		if !cmd.Flags().Changed("log") {
			logPath = config.GetString(config.KeyAuditLog)
		}

		entry, err := matrixEntryFromEnv(os.Getenv)
		if err != nil {
			WarnError("%v", err)
			return
		}
		in, err := readAuditInputs(verdictPath, statusPath, resultsDir)
		if err != nil {
			WarnError("%v", err)
		}
		if in.Verdict == nil || !in.Verdict.ShouldRun {
			logger.Debug("agent was not admitted; nothing to audit", "agent", entry.Name)
			return
		}
		if in.Event == nil {
			if ev, err := loadEvent(cmd); err == nil {
				in.Event = ev
			}
		}

		var w platform.Writer
		if entry.Config.Audit.CreateIssues {
			if p, err := newPlatform(); err != nil {
				WarnError("tracking issues disabled: %v", err)
			} else {
				w = p
			}
		}
		e, err := runAudit(getRootContext(), w, logPath, entry.Config, in)
		if err != nil {
			WarnError("%v", err)
		}
		if e == nil {
			return
		}
		if jsonOutput {
			outputJSON(e)
			return
		}
		printAudit(e)
	},
}

func init() {
	auditCmd.Flags().String("verdict", ".ra/verdict/verdict.json", "Verdict from the admission stage")
	auditCmd.Flags().String("status", ".ra/execution/status.json", "Execution status file")
	auditCmd.Flags().String("results-dir", ".ra/results", "Directory holding output results")
	auditCmd.Flags().String("log", "", "Append the record to this JSONL file (default: config audit.log)")
	addEventFlags(auditCmd)
	rootCmd.AddCommand(auditCmd)
}

type auditInputs struct {
	Verdict *types.ValidationVerdict
	Status  *types.ExecutionStatus
	Results []types.OutputResult
	Event   *types.Event
}

// readAuditInputs loads whatever artifacts reached the audit stage.
// Missing files leave the corresponding field nil.
func readAuditInputs(verdictPath, statusPath, resultsDir string) (auditInputs, error) {
	var in auditInputs

	var verdict types.ValidationVerdict
	ok, err := readJSONFile(verdictPath, &verdict)
	if err != nil {
		return in, err
	}
	if ok {
		in.Verdict = &verdict
		if len(verdict.Snapshot) > 0 {
			if ev, err := event.FromSnapshot(verdict.Snapshot); err == nil {
				in.Event = ev
			}
		}
	}

	var status types.ExecutionStatus
	ok, err = readJSONFile(statusPath, &status)
	if err != nil {
		return in, err
	}
	if ok {
		in.Status = &status
	}

	in.Results, err = loadResults(resultsDir)
	return in, err
}

func runAudit(ctx context.Context, w platform.Writer, logPath string, def *types.AgentDefinition, in auditInputs) (*audit.Entry, error) {
	var results []types.OutputResult
	for _, r := range in.Results {
		if r.Agent == def.Name {
			results = append(results, r)
		}
	}
	e := audit.NewEntry(def.Name, in.Event, in.Status, results)
	rec := &audit.Recorder{Writer: w, LogPath: logPath, Logger: logger}
	recorded, err := rec.Record(ctx, def, in.Verdict, e)
	if !recorded {
		return nil, err
	}
	return e, err
}

func printAudit(e *audit.Entry) {
	if !e.Failed {
		fmt.Printf("%s %s: %s\n", ui.RenderPassIcon(), e.Agent, e.Execution)
		return
	}
	fmt.Printf("%s %s failed\n", ui.RenderFailIcon(), e.Agent)
	for _, f := range e.Failures() {
		fmt.Printf("  %s%s\n", ui.TreeLast, f)
	}
	if e.TrackingIssue > 0 {
		fmt.Printf("  %s\n", ui.RenderMuted(fmt.Sprintf("tracking issue #%d", e.TrackingIssue)))
	}
}
