package compiler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/steveyegge/repoagents/internal/types"
)

var (
	actionPool = []string{"opened", "edited", "closed", "reopened", "labeled"}
	cronPool   = []string{"0 * * * *", "0 3 * * *", "*/15 * * * *", "30 2 * * 1"}
	levels     = []types.Level{types.LevelNone, types.LevelRead, types.LevelWrite}
)

// genDefinition draws a random, schema-shaped definition.
func genDefinition(t *rapid.T, i int) *types.AgentDefinition {
	def := &types.AgentDefinition{
		Name:        fmt.Sprintf("Agent %d", i),
		Path:        fmt.Sprintf("agent-%d.md", i),
		Permissions: make(types.PermissionSet),
	}
	for _, kind := range []types.TriggerKind{types.TriggerIssues, types.TriggerPullRequest} {
		if rapid.Bool().Draw(t, fmt.Sprintf("has-%s-%d", kind, i)) {
			typesList := rapid.SliceOfNDistinct(rapid.SampledFrom(actionPool), 1, 3, rapid.ID[string]).
				Draw(t, fmt.Sprintf("%s-types-%d", kind, i))
			def.Triggers = append(def.Triggers, types.Trigger{Kind: kind, Types: typesList})
		}
	}
	if rapid.Bool().Draw(t, fmt.Sprintf("has-schedule-%d", i)) {
		crons := rapid.SliceOfNDistinct(rapid.SampledFrom(cronPool), 1, 2, rapid.ID[string]).
			Draw(t, fmt.Sprintf("crons-%d", i))
		def.Triggers = append(def.Triggers, types.Trigger{Kind: types.TriggerSchedule, Crons: crons})
	}
	if len(def.Triggers) == 0 || rapid.Bool().Draw(t, fmt.Sprintf("has-dispatch-%d", i)) {
		def.Triggers = append(def.Triggers, types.Trigger{Kind: types.TriggerWorkflowDispatch})
	}
	for _, res := range types.Resources() {
		if rapid.Bool().Draw(t, fmt.Sprintf("has-%s-%d", res, i)) {
			def.Permissions[res] = rapid.SampledFrom(levels).Draw(t, fmt.Sprintf("%s-level-%d", res, i))
		}
	}
	return def
}

func genDefinitions(t *rapid.T) []*types.AgentDefinition {
	n := rapid.IntRange(1, 6).Draw(t, "n")
	defs := make([]*types.AgentDefinition, n)
	for i := range defs {
		defs[i] = genDefinition(t, i)
	}
	return defs
}

func TestRoutingTable_PermissionIsMaxOverAgents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		defs := genDefinitions(t)
		table := NewRoutingTable(defs)

		for _, res := range types.Resources() {
			want := types.LevelNone
			for _, def := range defs {
				want = types.MaxLevel(want, def.Permissions.Get(res))
			}
			if got := table.Permissions.Get(res); got != want {
				t.Fatalf("%s: got %v, want %v", res, got, want)
			}
		}
	})
}

func TestRoutingTable_TriggersAreUnionOverAgents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		defs := genDefinitions(t)
		table := NewRoutingTable(defs)

		for _, kind := range types.TriggerKinds() {
			want := make(map[string]bool)
			declared := false
			for _, def := range defs {
				if trig, ok := def.Trigger(kind); ok {
					declared = true
					for _, f := range trig.Filters() {
						want[f] = true
					}
				}
			}
			if declared != table.Has(kind) {
				t.Fatalf("%s: declared=%v, table has=%v", kind, declared, table.Has(kind))
			}
			got := make(map[string]bool)
			for _, f := range table.Filters[kind] {
				if got[f] {
					t.Fatalf("%s: duplicate filter %q", kind, f)
				}
				got[f] = true
			}
			if len(got) != len(want) {
				t.Fatalf("%s: got %v, want %v", kind, got, want)
			}
			for f := range want {
				if !got[f] {
					t.Fatalf("%s: missing %q", kind, f)
				}
			}
		}
	})
}

func TestRoutingTable_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		defs := genDefinitions(t)
		before := NewRoutingTable(defs)
		after := NewRoutingTable(append(defs, genDefinition(t, len(defs))))

		for _, res := range types.Resources() {
			if after.Permissions.Get(res) < before.Permissions.Get(res) {
				t.Fatalf("%s shrank", res)
			}
		}
		for kind, filters := range before.Filters {
			grown, ok := after.Filters[kind]
			if !ok {
				t.Fatalf("%s disappeared", kind)
			}
			for _, f := range filters {
				if !contains(grown, f) {
					t.Fatalf("%s lost %q", kind, f)
				}
			}
		}
	})
}

func TestRoutingTable_Scenarios(t *testing.T) {
	t.Run("single issue opener", func(t *testing.T) {
		table := NewRoutingTable([]*types.AgentDefinition{{
			Name:     "Opener",
			Triggers: []types.Trigger{{Kind: types.TriggerIssues, Types: []string{"opened"}}},
		}})
		assert.Equal(t, map[types.TriggerKind][]string{types.TriggerIssues: {"opened"}}, table.Filters)
	})

	t.Run("write beats read", func(t *testing.T) {
		table := NewRoutingTable([]*types.AgentDefinition{
			{Name: "A", Permissions: types.PermissionSet{types.ResourceIssues: types.LevelWrite}},
			{Name: "B", Permissions: types.PermissionSet{types.ResourceIssues: types.LevelRead}},
		})
		assert.Equal(t, types.LevelWrite, table.Permissions.Get(types.ResourceIssues))
	})

	t.Run("blocking check subscribes to closures", func(t *testing.T) {
		table := NewRoutingTable([]*types.AgentDefinition{{
			Name:      "Worker",
			Triggers:  []types.Trigger{{Kind: types.TriggerIssues, Types: []string{"labeled"}}},
			PreFlight: types.PreFlightPolicy{CheckBlockingIssues: true},
		}})
		assert.Equal(t, []string{"labeled"}, table.Filters[types.TriggerIssues])
		assert.Equal(t, []string{"labeled", "closed"}, table.EventTypes(types.TriggerIssues))
	})

	t.Run("workflow dispatch enabled if any", func(t *testing.T) {
		table := NewRoutingTable([]*types.AgentDefinition{
			{Name: "A", Triggers: []types.Trigger{{Kind: types.TriggerIssues, Types: []string{"opened"}}}},
			{Name: "B", Triggers: []types.Trigger{{Kind: types.TriggerWorkflowDispatch}}},
		})
		assert.True(t, table.Has(types.TriggerWorkflowDispatch))
		assert.Equal(t, []types.TriggerKind{types.TriggerIssues, types.TriggerWorkflowDispatch}, table.Families())
	})
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
