package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/types"
)

func triage() *types.AgentDefinition {
	return &types.AgentDefinition{
		Name:        "Issue Triage",
		Path:        "agents/triage.md",
		Triggers:    []types.Trigger{{Kind: types.TriggerIssues, Types: []string{"opened"}}},
		Permissions: types.PermissionSet{types.ResourceIssues: types.LevelWrite},
		Outputs: []types.OutputCapability{
			{Kind: types.OutputAddLabel, Max: 3},
			{Kind: types.OutputAddComment},
		},
		Audit:     types.AuditPolicy{CreateIssues: true},
		RateLimit: types.RateLimitPolicy{Minutes: 5},
	}
}

func nightly() *types.AgentDefinition {
	return &types.AgentDefinition{
		Name:           "Nightly Report",
		Path:           "agents/nightly.md",
		Triggers:       []types.Trigger{{Kind: types.TriggerSchedule, Crons: []string{"0 3 * * *"}}, {Kind: types.TriggerWorkflowDispatch}},
		Permissions:    types.PermissionSet{types.ResourceIssues: types.LevelRead, types.ResourceContents: types.LevelRead},
		TimeoutMinutes: 45,
	}
}

func TestCompile_Empty(t *testing.T) {
	_, err := Compile(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestCompile_AllOrNothing(t *testing.T) {
	bad := &types.AgentDefinition{
		Name:     "Doc Writer",
		Path:     "agents/docs.md",
		Triggers: []types.Trigger{{Kind: types.TriggerWorkflowDispatch}},
		Outputs:  []types.OutputCapability{{Kind: types.OutputUpdateFile}},
	}

	g, err := Compile(context.Background(), []*types.AgentDefinition{triage(), bad}, Options{})
	assert.Nil(t, g)

	var derr *types.DiagnosticsError
	require.True(t, errors.As(err, &derr))
	fields := make([]string, 0, len(derr.Diagnostics))
	for _, d := range derr.Diagnostics {
		assert.Equal(t, "agents/docs.md", d.Path)
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"outputs", "permissions"}, fields)
}

func TestCompile_DuplicateNames(t *testing.T) {
	dup := triage()
	dup.Path = "agents/other.md"

	_, err := Compile(context.Background(), []*types.AgentDefinition{triage(), dup}, Options{})
	var derr *types.DiagnosticsError
	require.True(t, errors.As(err, &derr))
	require.Len(t, derr.Diagnostics, 1)
	assert.Equal(t, types.KindCompile, derr.Diagnostics[0].Kind)
	assert.Contains(t, derr.Diagnostics[0].Message, "already declared in agents/triage.md")
}

func TestCompile_SlugCollision(t *testing.T) {
	other := triage()
	other.Name = "issue-triage!"
	other.Path = "agents/other.md"

	_, err := Compile(context.Background(), []*types.AgentDefinition{triage(), other}, Options{})
	var derr *types.DiagnosticsError
	require.True(t, errors.As(err, &derr))
	require.Len(t, derr.Diagnostics, 1)
	d := derr.Diagnostics[0]
	assert.Equal(t, "agents/other.md", d.Path)
	assert.Equal(t, "name", d.Field)
	assert.Contains(t, d.Message, `"issue-triage"`)
}

func TestCompile_Graph(t *testing.T) {
	g, err := Compile(context.Background(), []*types.AgentDefinition{triage(), nightly()}, Options{})
	require.NoError(t, err)

	var ids []string
	for _, s := range g.Stages {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, StageIDs(), ids)

	assert.Empty(t, g.Stage(StagePreflight).Needs)
	assert.Equal(t, []string{StagePreflight}, g.Stage(StageRoute).Needs)
	assert.Equal(t, []string{StageRoute}, g.Stage(StageValidation).Needs)
	assert.Contains(t, g.Stage(StageExecution).Needs, StageValidation)
	assert.Contains(t, g.Stage(StageOutputs).Needs, StageExecution)
	assert.Contains(t, g.Stage(StageAudit).Needs, StageOutputs)

	// Matrix stages fan out over route-event outputs.
	for _, id := range []string{StageValidation, StageExecution, StageAudit} {
		m := g.Stage(id).Matrix
		require.NotNil(t, m, id)
		assert.Equal(t, "agent", m.Key)
		assert.Contains(t, m.Source, RouteOutputAgents)
	}
	assert.Contains(t, g.Stage(StageOutputs).Matrix.Source, RouteOutputOutputs)

	// Audit and downstream stages survive upstream failures.
	assert.True(t, strings.HasPrefix(g.Stage(StageAudit).If, "always()"))
	assert.True(t, strings.HasPrefix(g.Stage(StageOutputs).If, "always()"))
	assert.Empty(t, g.Stage(StageRoute).If)

	// Execution steps are gated per entry on the verdict.
	for _, step := range g.Stage(StageExecution).Steps {
		if step.ID == StepExecution {
			assert.Contains(t, step.If, "should_run == 'true'")
		}
	}

	require.Len(t, g.Entries, 2)
	assert.Equal(t, "issue-triage", g.Entries[0].Slug)
	assert.Equal(t, []types.OutputKind{types.OutputAddLabel, types.OutputAddComment}, g.Entries[0].Outputs)
	assert.Len(t, g.OutputMatrix(), 2)

	assert.Equal(t, 45, g.Stage(StageExecution).Timeout)
	assert.Equal(t, "write", g.Stage(StageAudit).Permissions["issues"])
	assert.Equal(t, "write", g.Stage(StageExecution).Permissions["issues"])
	assert.Equal(t, "read", g.Stage(StageExecution).Permissions["contents"])
}

func TestCompileDiscovery_InvalidFileFailsCompile(t *testing.T) {
	fsys := fstest.MapFS{
		"good.md": {Data: []byte("---\nname: Good\non:\n  workflow_dispatch: true\n---\nbody\n")},
		"bad.md":  {Data: []byte("not an agent")},
	}
	d := agentdef.DiscoverFS(context.Background(), fsys, ".")

	_, err := CompileDiscovery(context.Background(), d, Options{})
	var derr *types.DiagnosticsError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "bad.md", derr.Diagnostics[0].Path)
}

func TestRender_Workflow(t *testing.T) {
	worker := &types.AgentDefinition{
		Name:        "Worker",
		Path:        "agents/worker.md",
		Triggers:    []types.Trigger{{Kind: types.TriggerIssues, Types: []string{"labeled"}}},
		Permissions: types.PermissionSet{types.ResourceContents: types.LevelWrite, types.ResourcePullRequests: types.LevelWrite},
		Outputs:     []types.OutputCapability{{Kind: types.OutputCreatePR}},
		PreFlight:   types.PreFlightPolicy{CheckBlockingIssues: true},
	}
	opts := Options{AgentsDir: ".github/agents"}
	g, err := Compile(context.Background(), []*types.AgentDefinition{triage(), nightly(), worker}, opts)
	require.NoError(t, err)

	out, err := Render(g, opts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# "+GeneratedHeader))

	again, err := Render(g, opts)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))

	var wf struct {
		Name        string            `yaml:"name"`
		On          map[string]any    `yaml:"on"`
		Permissions map[string]string `yaml:"permissions"`
		Jobs        map[string]struct {
			Needs    []string `yaml:"needs"`
			If       string   `yaml:"if"`
			Strategy struct {
				Matrix map[string]string `yaml:"matrix"`
			} `yaml:"strategy"`
			Steps []map[string]any `yaml:"steps"`
		} `yaml:"jobs"`
	}
	require.NoError(t, yaml.Unmarshal(out, &wf))

	assert.Equal(t, DefaultWorkflowName, wf.Name)
	issues, ok := wf.On["issues"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"opened", "labeled", "closed"}, issues["types"])
	assert.Contains(t, wf.On, "schedule")
	assert.Contains(t, wf.On, "workflow_dispatch")
	assert.NotContains(t, wf.On, "pull_request")

	assert.Equal(t, map[string]string{
		"contents":      "write",
		"issues":        "write",
		"pull-requests": "write",
	}, wf.Permissions)

	require.Len(t, wf.Jobs, 6)
	assert.Equal(t, []string{StagePreflight}, wf.Jobs[StageRoute].Needs)
	assert.Contains(t, wf.Jobs[StageAudit].If, "always()")
	assert.Contains(t, wf.Jobs[StageValidation].Strategy.Matrix["agent"], "fromJSON")
}

func TestRender_ScheduleOnly(t *testing.T) {
	opts := Options{}
	g, err := Compile(context.Background(), []*types.AgentDefinition{nightly()}, opts)
	require.NoError(t, err)

	out, err := Render(g, opts)
	require.NoError(t, err)

	var wf map[string]any
	require.NoError(t, yaml.Unmarshal(out, &wf))
	on, ok := wf["on"].(map[string]any)
	require.True(t, ok, "on: %#v", wf["on"])
	sched := on["schedule"].([]any)
	require.Len(t, sched, 1)
	assert.Equal(t, "0 3 * * *", sched[0].(map[string]any)["cron"])
	assert.NotContains(t, on, "issues")
}

func TestRender_DefaultCredentials(t *testing.T) {
	g, err := Compile(context.Background(), []*types.AgentDefinition{triage()}, Options{})
	require.NoError(t, err)
	out, err := Render(g, Options{})
	require.NoError(t, err)

	for _, name := range types.DefaultCredentialEnv() {
		assert.Contains(t, string(out), "${{ secrets."+name+" }}")
	}
}
