// Package repoagents provides a small public API for tools that want to
// read agent definitions or compile them without shelling out to ra.
//
// The ra command is the primary interface; see cmd/ra.
package repoagents

import (
	"context"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/compiler"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/router"
	"github.com/steveyegge/repoagents/internal/types"
)

// Core types
type (
	AgentDefinition = types.AgentDefinition
	Diagnostic      = types.Diagnostic
	Diagnostics     = types.Diagnostics
	Event           = types.Event
	MatrixEntry     = types.MatrixEntry
	Verdict         = types.ValidationVerdict
	CompileOptions  = compiler.Options
)

// ErrNoAgents is returned by Compile when there is nothing to compile.
var ErrNoAgents = compiler.ErrNoAgents

// Parse parses and validates one definition file. The definition is nil
// when any diagnostic is an error.
func Parse(path string, data []byte) (*AgentDefinition, Diagnostics) {
	return agentdef.ParseAndValidate(path, data)
}

// Load parses every definition under dir, returning the valid ones and
// all diagnostics.
func Load(ctx context.Context, dir string) ([]*AgentDefinition, Diagnostics) {
	d := agentdef.Discover(ctx, dir)
	return d.Definitions(), d.AllDiagnostics()
}

// Compile validates the definitions under dir as a set and renders the
// pipeline workflow.
func Compile(ctx context.Context, dir string, opts CompileOptions) ([]byte, error) {
	opts.AgentsDir = dir
	g, err := compiler.CompileDiscovery(ctx, agentdef.Discover(ctx, dir), opts)
	if err != nil {
		return nil, err
	}
	return compiler.Render(g, opts)
}

// ParseEvent decodes an Actions webhook payload for the named event.
func ParseEvent(name string, payload []byte) (*Event, error) {
	return event.Parse(name, payload, event.Meta{})
}

// Match returns the agents an event selects, before admission.
func Match(defs []*AgentDefinition, ev *Event) []MatrixEntry {
	return router.Match(defs, ev)
}
