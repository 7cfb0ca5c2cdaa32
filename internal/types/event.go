package types

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/repoagents/internal/util"
)

// Event is one incoming repository event, normalized across families.
type Event struct {
	Kind          TriggerKind `json:"kind"`
	Action        string      `json:"action,omitempty"`
	Schedule      string      `json:"schedule,omitempty"`       // cron string for schedule events
	DispatchType  string      `json:"dispatch_type,omitempty"`  // repository_dispatch event type
	DispatchAgent string      `json:"dispatch_agent,omitempty"` // workflow_dispatch "agent" input
	Actor         string      `json:"actor,omitempty"`
	Repository    string      `json:"repository,omitempty"` // owner/name
	Item          *Item       `json:"item,omitempty"`
	RunID         string      `json:"run_id,omitempty"`
	ReceivedAt    time.Time   `json:"received_at"`
}

// ItemKind distinguishes the targets of label-bearing events.
type ItemKind string

const (
	ItemIssue       ItemKind = "issue"
	ItemPullRequest ItemKind = "pull_request"
	ItemDiscussion  ItemKind = "discussion"
)

// Item is the issue, pull request or discussion an event targets.
type Item struct {
	Kind   ItemKind `json:"kind"`
	Number int      `json:"number"`
	Title  string   `json:"title,omitempty"`
	Body   string   `json:"body,omitempty"`
	State  string   `json:"state,omitempty"`
	Author string   `json:"author,omitempty"`
	Labels []string `json:"labels,omitempty"`
	URL    string   `json:"url,omitempty"`
}

// Labels returns the labels on the event's target item, or nil.
func (e *Event) Labels() []string {
	if e.Item == nil {
		return nil
	}
	return e.Item.Labels
}

// HasLabelTarget reports whether the event targets a label-bearing item.
func (e *Event) HasLabelTarget() bool {
	return e.Kind.HasLabels() && e.Item != nil
}

// Snapshot serializes the event for downstream stages.
func (e *Event) Snapshot() (json.RawMessage, error) {
	return json.Marshal(e)
}

// IssueSummary is the platform's view of an issue used by routing and
// admission decisions.
type IssueSummary struct {
	Number int      `json:"number"`
	State  string   `json:"state"`
	Labels []string `json:"labels,omitempty"`
	Title  string   `json:"title,omitempty"`
}

// IsOpen reports whether the issue is open.
func (s IssueSummary) IsOpen() bool {
	return s.State == "open"
}

// MatrixEntry is the per-agent record consumed by the fan-out stages.
type MatrixEntry struct {
	Name     string                   `json:"name"`
	Slug     string                   `json:"slug"`
	Path     string                   `json:"path"`
	Config   *AgentDefinition         `json:"config"`
	Triggers map[TriggerKind][]string `json:"triggers"`
	Outputs  []OutputKind             `json:"outputs,omitempty"`

	// Unblocked lists open issues whose blocker just closed, for entries
	// added by the blocking-dependency retry rather than by normal matching.
	Unblocked []int `json:"unblocked,omitempty"`
}

// NewMatrixEntry builds the matrix record for one definition.
func NewMatrixEntry(def *AgentDefinition) MatrixEntry {
	triggers := make(map[TriggerKind][]string, len(def.Triggers))
	for _, t := range def.Triggers {
		filters := t.Filters()
		if filters == nil {
			filters = []string{}
		}
		triggers[t.Kind] = filters
	}
	return MatrixEntry{
		Name:     def.Name,
		Slug:     util.Slugify(def.Name),
		Path:     def.Path,
		Config:   def,
		Triggers: triggers,
		Outputs:  def.OutputKinds(),
	}
}

// OutputMatrixEntry is one agent × output-kind row for the outputs stage.
type OutputMatrixEntry struct {
	Agent string     `json:"agent"`
	Slug  string     `json:"slug"`
	Kind  OutputKind `json:"kind"`
}

// OutputMatrix expands entries into one row per (agent, declared output kind).
func OutputMatrix(entries []MatrixEntry) []OutputMatrixEntry {
	var rows []OutputMatrixEntry
	for _, e := range entries {
		for _, kind := range e.Outputs {
			rows = append(rows, OutputMatrixEntry{Agent: e.Name, Slug: e.Slug, Kind: kind})
		}
	}
	return rows
}

// ValidationVerdict is the admit/skip decision for one (agent, event) pair.
type ValidationVerdict struct {
	Agent      string          `json:"agent"`
	ShouldRun  bool            `json:"should_run"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Check      string          `json:"check,omitempty"` // failing check on skip
	Warnings   []string        `json:"warnings,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	DecidedAt  time.Time       `json:"decided_at"`
}
