package compiler

import (
	"github.com/steveyegge/repoagents/internal/types"
)

// Stage identifiers, in pipeline order.
const (
	StagePreflight  = "global-preflight"
	StageRoute      = "route-event"
	StageValidation = "agent-validation"
	StageExecution  = "agent-execution"
	StageOutputs    = "execute-outputs"
	StageAudit      = "audit-report"
)

// StageIDs returns the six stage identifiers in pipeline order.
func StageIDs() []string {
	return []string{StagePreflight, StageRoute, StageValidation, StageExecution, StageOutputs, StageAudit}
}

// Outputs published by the route-event stage.
const (
	RouteOutputAgents     = "agents"
	RouteOutputOutputs    = "outputs-matrix"
	RouteOutputHasAgents  = "has-agents"
	RouteOutputHasOutputs = "has-outputs"
)

// Step outputs used for per-entry gating.
const (
	StepVerdict   = "verdict"
	StepContext   = "context"
	StepExecution = "execution"
	StepResult    = "result"
)

// Artifact name prefixes. Artifacts are suffixed with the agent slug.
const (
	ArtifactVerdict   = "verdict-"
	ArtifactOutputs   = "outputs-"
	ArtifactExecution = "execution-"
)

// PipelineGraph is the compiled job graph: six stages with dependency edges,
// matrix dimensions and per-stage conditions, plus the aggregated routing
// table and one matrix entry per agent.
type PipelineGraph struct {
	Name    string              `json:"name"`
	Table   *RoutingTable       `json:"table"`
	Entries []types.MatrixEntry `json:"entries"`
	Stages  []*Stage            `json:"stages"`
}

// Stage returns the stage with the given ID, or nil.
func (g *PipelineGraph) Stage(id string) *Stage {
	for _, s := range g.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// OutputMatrix returns one row per (agent, declared output kind).
func (g *PipelineGraph) OutputMatrix() []types.OutputMatrixEntry {
	return types.OutputMatrix(g.Entries)
}

// Stage is one job in the pipeline.
type Stage struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Needs       []string          `json:"needs,omitempty"`
	If          string            `json:"if,omitempty"`
	Matrix      *Matrix           `json:"matrix,omitempty"`
	Permissions map[string]string `json:"permissions,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Timeout     int               `json:"timeout_minutes,omitempty"`
	Steps       []Step            `json:"steps"`
}

// Matrix is a fan-out dimension fed from a route-event output.
type Matrix struct {
	Key         string `json:"key"`    // matrix variable name
	Source      string `json:"source"` // expression yielding a JSON array
	FailFast    bool   `json:"fail_fast"`
	MaxParallel int    `json:"max_parallel,omitempty"`
}

// Step is one step of a stage.
type Step struct {
	ID    string            `json:"id,omitempty"`
	Name  string            `json:"name"`
	If    string            `json:"if,omitempty"`
	Uses  string            `json:"uses,omitempty"`
	With  map[string]string `json:"with,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	Run   string            `json:"run,omitempty"`
	Shell string            `json:"shell,omitempty"`

	ContinueOnError bool `json:"continue_on_error,omitempty"`
}
