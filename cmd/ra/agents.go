package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

// loadAgents discovers definitions under dir. Files that fail to parse are
// logged and left out, so one broken definition cannot stop the others
// at run time.
func loadAgents(ctx context.Context, dir string) []*types.AgentDefinition {
	d := agentdef.Discover(ctx, dir)
	for _, diag := range d.AllDiagnostics().Errors() {
		logger.Warn("agent definition ignored", "path", diag.Path, "field", diag.Field, "error", diag.Message)
	}
	return d.Definitions()
}

// findAgent looks a definition up by exact name, then case-insensitive
// name, then slug.
func findAgent(defs []*types.AgentDefinition, name string) (*types.AgentDefinition, error) {
	for _, def := range defs {
		if def.Name == name {
			return def, nil
		}
	}
	for _, def := range defs {
		if strings.EqualFold(def.Name, name) || util.Slugify(def.Name) == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("no agent named %q", name)
}
