package compiler

import (
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

// RoutingTable is the compile-time aggregation over a definition set: the
// union of trigger filters per family and the per-resource maximum
// permission. Adding an agent can only grow it.
type RoutingTable struct {
	// Filters holds the union of action types, dispatch types or cron
	// strings per family, in first-seen order. A family is present iff at
	// least one agent declares it; workflow_dispatch maps to an empty list.
	Filters map[types.TriggerKind][]string `json:"filters"`

	// Permissions holds the highest level any agent requests per resource.
	Permissions types.PermissionSet `json:"permissions"`

	// RetryOnClose is set when any agent enables its blocking-issue check,
	// so the pipeline must also listen for issue closures.
	RetryOnClose bool `json:"retry_on_close,omitempty"`

	// Outputs is the union of declared output kinds.
	Outputs []types.OutputKind `json:"outputs,omitempty"`
}

// NewRoutingTable aggregates defs.
func NewRoutingTable(defs []*types.AgentDefinition) *RoutingTable {
	t := &RoutingTable{
		Filters:     make(map[types.TriggerKind][]string),
		Permissions: make(types.PermissionSet),
	}
	for _, def := range defs {
		t.Add(def)
	}
	return t
}

// Add merges one definition into the table.
func (t *RoutingTable) Add(def *types.AgentDefinition) {
	for _, trig := range def.Triggers {
		existing, ok := t.Filters[trig.Kind]
		if !ok {
			existing = []string{}
		}
		t.Filters[trig.Kind] = util.UnionStrings(existing, trig.Filters())
	}
	t.Permissions = t.Permissions.Merge(def.Permissions)
	if def.PreFlight.CheckBlockingIssues {
		t.RetryOnClose = true
	}
	for _, kind := range def.OutputKinds() {
		if !containsKind(t.Outputs, kind) {
			t.Outputs = append(t.Outputs, kind)
		}
	}
}

// Families returns the declared trigger families in canonical order.
func (t *RoutingTable) Families() []types.TriggerKind {
	var out []types.TriggerKind
	for _, k := range types.TriggerKinds() {
		if _, ok := t.Filters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether any agent declares the family.
func (t *RoutingTable) Has(kind types.TriggerKind) bool {
	_, ok := t.Filters[kind]
	return ok
}

// EventTypes returns the activity types the pipeline subscribes to for a
// family: the declared union, plus "closed" for issues when the blocking
// retry is needed.
func (t *RoutingTable) EventTypes(kind types.TriggerKind) []string {
	filters := t.Filters[kind]
	if kind == types.TriggerIssues && t.RetryOnClose {
		return util.UnionStrings(filters, []string{"closed"})
	}
	return filters
}

func containsKind(kinds []types.OutputKind, k types.OutputKind) bool {
	for _, existing := range kinds {
		if existing == k {
			return true
		}
	}
	return false
}
