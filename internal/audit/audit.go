// Package audit records the outcome of each admitted agent run and opens a
// tracking issue when a run fails.
//
// Entries are appended to a JSONL log (one JSON object per line) under a
// file lock, so concurrent audit runs sharing a log do not interleave.
// Audit never fails the pipeline: errors are returned to the caller for
// logging only.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/repoagents/internal/lockfile"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

// FileName is the default audit log name inside the work directory.
const FileName = "audit.jsonl"

// DefaultLabels are applied to tracking issues when the agent sets none.
var DefaultLabels = []string{"agent-failure"}

// Entry is one audit record.
type Entry struct {
	ID            string               `json:"id"`
	Agent         string               `json:"agent"`
	RunID         string               `json:"run_id,omitempty"`
	Event         types.TriggerKind    `json:"event,omitempty"`
	Item          int                  `json:"item,omitempty"`
	Execution     string               `json:"execution"`
	Reason        string               `json:"reason,omitempty"`
	Outputs       []types.OutputResult `json:"outputs,omitempty"`
	Failed        bool                 `json:"failed"`
	TrackingIssue int                  `json:"tracking_issue,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// NewEntry builds the record for one admitted run. A missing execution
// status means the run never reported back, which counts as a failure.
func NewEntry(agent string, ev *types.Event, status *types.ExecutionStatus, results []types.OutputResult) *Entry {
	e := &Entry{
		Agent:     agent,
		Execution: "missing",
		Outputs:   results,
	}
	if ev != nil {
		e.RunID = ev.RunID
		e.Event = ev.Kind
		if ev.Item != nil {
			e.Item = ev.Item.Number
		}
	}
	if status != nil {
		e.Execution = status.Status
		e.Reason = status.Reason
	}
	e.Failed = e.Execution != types.StatusSuccess && e.Execution != types.StatusSkipped
	for _, r := range results {
		if r.Failed() {
			e.Failed = true
		}
	}
	return e
}

// Failures lists human-readable failure lines.
func (e *Entry) Failures() []string {
	var out []string
	if e.Execution != types.StatusSuccess && e.Execution != types.StatusSkipped {
		line := "execution " + e.Execution
		if e.Reason != "" {
			line += ": " + e.Reason
		}
		out = append(out, line)
	}
	for _, r := range e.Outputs {
		if r.Failed() {
			out = append(out, fmt.Sprintf("%s %s: %s", r.Kind, r.Status, r.Error))
		}
	}
	return out
}

// Append writes e to the JSONL log at path, assigning an ID and timestamp
// if unset, and returns the ID.
func Append(path string, e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if err := lockfile.AppendLocked(path, append(line, '\n')); err != nil {
		return "", fmt.Errorf("failed to append audit entry: %w", err)
	}
	return e.ID, nil
}

// Recorder writes entries and escalates failures.
type Recorder struct {
	Writer  platform.Writer
	LogPath string
	Logger  *slog.Logger
}

// Record audits one matrix entry. Agents that were not admitted are not
// recorded and false is returned. A failed run of an agent with
// audit.create_issues opens a tracking issue.
func (r *Recorder) Record(ctx context.Context, def *types.AgentDefinition, verdict *types.ValidationVerdict, e *Entry) (bool, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if verdict == nil || !verdict.ShouldRun {
		logger.Debug("agent was not admitted; nothing to audit", "agent", def.Name)
		return false, nil
	}

	if e.Failed && def.Audit.CreateIssues && r.Writer != nil {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		labels := def.Audit.Labels
		if len(labels) == 0 {
			labels = DefaultLabels
		}
		issue, err := r.Writer.CreateIssue(ctx, platform.NewIssue{
			Title:     fmt.Sprintf("Agent %q failed", def.Name),
			Body:      TrackingBody(def, e),
			Labels:    labels,
			Assignees: def.Audit.Assignees,
		})
		if err != nil {
			logger.Warn("failed to open tracking issue", "agent", def.Name, "error", err)
		} else {
			e.TrackingIssue = issue.Number
			logger.Info("opened tracking issue", "agent", def.Name, "issue", issue.Number)
		}
	}

	if r.LogPath == "" {
		return true, nil
	}
	if _, err := Append(r.LogPath, e); err != nil {
		return true, err
	}
	return true, nil
}

// TrackingBody renders the body of a failure tracking issue.
func TrackingBody(def *types.AgentDefinition, e *Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent **%s** (`%s`) failed.\n\n", def.Name, def.Path)
	if e.Event != "" {
		fmt.Fprintf(&b, "- Event: `%s`\n", e.Event)
	}
	if e.Item > 0 {
		fmt.Fprintf(&b, "- Item: #%d\n", e.Item)
	}
	if e.RunID != "" {
		fmt.Fprintf(&b, "- Run: %s\n", e.RunID)
	}
	fmt.Fprintf(&b, "- Audit ID: `%s`\n\n", e.ID)
	b.WriteString("### Failures\n\n")
	for _, f := range e.Failures() {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}
