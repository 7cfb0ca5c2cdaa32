// Package types defines core data structures for repo agents: parsed agent
// definitions, repository events, routing records and admission verdicts.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRateLimitMinutes is the rate-limit interval applied when a
// definition does not set one.
const DefaultRateLimitMinutes = 5

// AgentDefinition is one parsed agent file. It is immutable once produced
// by the parser and is re-created on every routing pass.
type AgentDefinition struct {
	Name           string             `json:"name"`
	Path           string             `json:"path"`
	Description    string             `json:"description,omitempty"`
	Triggers       []Trigger          `json:"triggers"`
	Permissions    PermissionSet      `json:"permissions,omitempty"`
	Outputs        []OutputCapability `json:"outputs,omitempty"`
	Authorization  AuthorizationRule  `json:"authorization"`
	RateLimit      RateLimitPolicy    `json:"rate_limit"`
	MaxOpenPRs     int                `json:"max_open_prs,omitempty"` // 0 = no cap
	PreFlight      PreFlightPolicy    `json:"pre_flight"`
	Audit          AuditPolicy        `json:"audit"`
	Model          ModelConfig        `json:"model"`
	Context        *ContextConfig     `json:"context,omitempty"`
	TimeoutMinutes int                `json:"timeout_minutes,omitempty"`
	Instructions   string             `json:"instructions,omitempty"`
}

// Trigger returns the trigger family of the given kind, if declared.
func (d *AgentDefinition) Trigger(kind TriggerKind) (Trigger, bool) {
	for _, t := range d.Triggers {
		if t.Kind == kind {
			return t, true
		}
	}
	return Trigger{}, false
}

// Output returns the output capability of the given kind, if declared.
func (d *AgentDefinition) Output(kind OutputKind) (OutputCapability, bool) {
	for _, o := range d.Outputs {
		if o.Kind == kind {
			return o, true
		}
	}
	return OutputCapability{}, false
}

// OutputKinds returns the declared output kinds in declaration order.
func (d *AgentDefinition) OutputKinds() []OutputKind {
	kinds := make([]OutputKind, 0, len(d.Outputs))
	for _, o := range d.Outputs {
		kinds = append(kinds, o.Kind)
	}
	return kinds
}

// TriggerKind identifies a family of repository events.
type TriggerKind string

const (
	TriggerIssues             TriggerKind = "issues"
	TriggerPullRequest        TriggerKind = "pull_request"
	TriggerDiscussion         TriggerKind = "discussion"
	TriggerSchedule           TriggerKind = "schedule"
	TriggerWorkflowDispatch   TriggerKind = "workflow_dispatch"
	TriggerRepositoryDispatch TriggerKind = "repository_dispatch"
)

// TriggerKinds returns all trigger families in canonical order.
func TriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerIssues,
		TriggerPullRequest,
		TriggerDiscussion,
		TriggerSchedule,
		TriggerWorkflowDispatch,
		TriggerRepositoryDispatch,
	}
}

// IsValid checks if the trigger kind is recognized.
func (k TriggerKind) IsValid() bool {
	for _, known := range TriggerKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// HasActionTypes reports whether events of this family carry an action type
// that agents filter on.
func (k TriggerKind) HasActionTypes() bool {
	switch k {
	case TriggerIssues, TriggerPullRequest, TriggerDiscussion:
		return true
	}
	return false
}

// HasLabels reports whether events of this family target an item that can
// carry labels.
func (k TriggerKind) HasLabels() bool {
	return k.HasActionTypes()
}

// Trigger is one trigger family with its family-specific filters.
// Types holds action types (issues, pull_request, discussion) or dispatch
// types (repository_dispatch); Crons holds schedule expressions.
// workflow_dispatch carries no filter.
type Trigger struct {
	Kind  TriggerKind `json:"kind"`
	Types []string    `json:"types,omitempty"`
	Crons []string    `json:"crons,omitempty"`
}

// Filters returns the trigger's flattened filter list.
func (t Trigger) Filters() []string {
	if t.Kind == TriggerSchedule {
		return t.Crons
	}
	return t.Types
}

// SortTriggers orders triggers by canonical family order.
func SortTriggers(ts []Trigger) {
	rank := make(map[TriggerKind]int)
	for i, k := range TriggerKinds() {
		rank[k] = i
	}
	sort.SliceStable(ts, func(i, j int) bool { return rank[ts[i].Kind] < rank[ts[j].Kind] })
}

// RateLimitPolicy is the minimum interval between successive runs of one agent.
type RateLimitPolicy struct {
	Minutes int `json:"minutes"`
}

// PreFlightPolicy configures the pre-flight admission check.
type PreFlightPolicy struct {
	CheckBlockingIssues bool `json:"check_blocking_issues,omitempty"`
	MaxEstimate         int  `json:"max_estimate,omitempty"` // 0 = no effort cap
}

// AuditPolicy configures failure escalation for the audit stage.
type AuditPolicy struct {
	CreateIssues bool     `json:"create_issues,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	Assignees    []string `json:"assignees,omitempty"`
}

// ModelConfig holds AI-backend settings passed through to the execution stage.
type ModelConfig struct {
	Name        string   `json:"name,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ContextConfig configures the context-collection collaborator.
type ContextConfig struct {
	Since    string   `json:"since,omitempty"`
	MinItems int      `json:"min_items,omitempty"`
	Include  []string `json:"include,omitempty"` // "issues", "pull_requests"
	Labels   []string `json:"labels,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// DiagnosticKind names the phase that produced a diagnostic.
type DiagnosticKind string

const (
	KindStructural DiagnosticKind = "structural"
	KindSchema     DiagnosticKind = "schema"
	KindSemantic   DiagnosticKind = "semantic"
	KindDiscovery  DiagnosticKind = "discovery"
	KindCompile    DiagnosticKind = "compile"
)

// Diagnostic is one problem found in a definition file.
type Diagnostic struct {
	Path     string         `json:"path,omitempty"`
	Field    string         `json:"field,omitempty"`
	Severity Severity       `json:"severity"`
	Kind     DiagnosticKind `json:"kind"`
	Message  string         `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Path != "" {
		b.WriteString(d.Path)
		b.WriteString(": ")
	}
	if d.Field != "" {
		b.WriteString(d.Field)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// Diagnostics is an ordered list of diagnostics.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic has error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func (ds Diagnostics) Errors() Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only the warning-severity diagnostics.
func (ds Diagnostics) Warnings() Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// WithPath returns a copy with Path set on every diagnostic that lacks one.
func (ds Diagnostics) WithPath(path string) Diagnostics {
	out := make(Diagnostics, len(ds))
	for i, d := range ds {
		if d.Path == "" {
			d.Path = path
		}
		out[i] = d
	}
	return out
}

// DiagnosticsError wraps error diagnostics so they can travel as an error.
type DiagnosticsError struct {
	Diagnostics Diagnostics
}

func (e *DiagnosticsError) Error() string {
	errs := e.Diagnostics.Errors()
	if len(errs) == 1 {
		return errs[0].String()
	}
	lines := make([]string, len(errs))
	for i, d := range errs {
		lines[i] = d.String()
	}
	return fmt.Sprintf("%d errors:\n  - %s", len(errs), strings.Join(lines, "\n  - "))
}
