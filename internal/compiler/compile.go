// Package compiler aggregates a validated set of agent definitions into one
// six-stage pipeline graph and renders it as a workflow file.
//
// Compilation is all-or-nothing: every definition must pass semantic
// validation, names must be unique and so must their slugs, otherwise no
// graph is produced.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/telemetry"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

// ErrNoAgents is returned when there is nothing to compile.
var ErrNoAgents = errors.New("no agent definitions to compile")

// Default option values.
const (
	DefaultWorkflowName   = "Repo Agents"
	DefaultAgentsDir      = ".github/agents"
	DefaultRunsOn         = "ubuntu-latest"
	DefaultToolVersion    = "latest"
	DefaultGoVersion      = "stable"
	DefaultTimeoutMinutes = 30
)

// ToolModule is the module path installed in every stage to run `ra`.
const ToolModule = "github.com/steveyegge/repoagents/cmd/ra"

// Options control the shape of the emitted pipeline.
type Options struct {
	WorkflowName  string
	AgentsDir     string
	RunsOn        string
	ToolVersion   string
	GoVersion     string
	CredentialEnv []string // secrets exposed to preflight and execution
	MaxParallel   int      // 0 = unbounded
}

func (o Options) withDefaults() Options {
	if o.WorkflowName == "" {
		o.WorkflowName = DefaultWorkflowName
	}
	if o.AgentsDir == "" {
		o.AgentsDir = DefaultAgentsDir
	}
	if o.RunsOn == "" {
		o.RunsOn = DefaultRunsOn
	}
	if o.ToolVersion == "" {
		o.ToolVersion = DefaultToolVersion
	}
	if o.GoVersion == "" {
		o.GoVersion = DefaultGoVersion
	}
	if len(o.CredentialEnv) == 0 {
		o.CredentialEnv = types.DefaultCredentialEnv()
	}
	return o
}

// Compile validates defs as a set and builds the pipeline graph.
// The returned error is ErrNoAgents or a *types.DiagnosticsError listing
// every problem found.
func Compile(ctx context.Context, defs []*types.AgentDefinition, opts Options) (*PipelineGraph, error) {
	_, span := telemetry.Tracer("").Start(ctx, "compiler.compile")
	defer span.End()
	span.SetAttributes(attribute.Int("ra.agents", len(defs)))

	if len(defs) == 0 {
		span.SetStatus(codes.Error, ErrNoAgents.Error())
		return nil, ErrNoAgents
	}

	if diags := CheckSet(defs); diags.HasErrors() {
		err := &types.DiagnosticsError{Diagnostics: diags.Errors()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid definition set")
		return nil, err
	}

	opts = opts.withDefaults()
	g := &PipelineGraph{
		Name:  opts.WorkflowName,
		Table: NewRoutingTable(defs),
	}
	for _, def := range defs {
		g.Entries = append(g.Entries, types.NewMatrixEntry(def))
	}
	g.Stages = buildStages(g, defs, opts)
	return g, nil
}

// CompileDiscovery compiles the result of a directory scan. Any file that
// failed to parse fails the whole compile.
func CompileDiscovery(ctx context.Context, d *agentdef.Discovery, opts Options) (*PipelineGraph, error) {
	if errs := d.AllDiagnostics().Errors(); len(errs) > 0 {
		return nil, &types.DiagnosticsError{Diagnostics: errs}
	}
	var defs []*types.AgentDefinition
	for _, r := range d.Results {
		defs = append(defs, r.Definition)
	}
	return Compile(ctx, defs, opts)
}

// CheckSet runs semantic validation on every definition and checks that
// names and slugs are unique across the set.
func CheckSet(defs []*types.AgentDefinition) types.Diagnostics {
	var diags types.Diagnostics
	byName := make(map[string]*types.AgentDefinition)
	bySlug := make(map[string]*types.AgentDefinition)

	for _, def := range defs {
		diags = append(diags, agentdef.ValidateSemantics(def)...)

		if prev, ok := byName[def.Name]; ok {
			diags = append(diags, compileError(def.Path, "name",
				"agent name %q already declared in %s", def.Name, prev.Path))
			continue
		}
		byName[def.Name] = def

		slug := util.Slugify(def.Name)
		if prev, ok := bySlug[slug]; ok {
			diags = append(diags, compileError(def.Path, "name",
				"agent name %q and %q (%s) both produce the identifier %q; rename one of them",
				def.Name, prev.Name, prev.Path, slug))
			continue
		}
		bySlug[slug] = def
	}
	return diags
}

func compileError(path, field, format string, args ...any) types.Diagnostic {
	return types.Diagnostic{
		Path:     path,
		Field:    field,
		Severity: types.SeverityError,
		Kind:     types.KindCompile,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ── Stage construction ──────────────────────────────────────────────────────

const (
	workDir       = ".ra"
	verdictDir    = workDir + "/verdict"
	executionDir  = workDir + "/execution"
	outputsDir    = workDir + "/outputs"
	resultsDir    = workDir + "/results"
	contextFile   = workDir + "/context.md"
	entryEnv      = "RA_MATRIX_ENTRY"
	outputEnv     = "RA_OUTPUT_ENTRY"
	routeNeed     = "needs." + StageRoute + ".outputs."
	agentSlugExpr = "${{ matrix.agent.slug }}"
)

func buildStages(g *PipelineGraph, defs []*types.AgentDefinition, opts Options) []*Stage {
	setup := setupSteps(opts)
	agentMatrix := &Matrix{
		Key:         "agent",
		Source:      "${{ fromJSON(" + routeNeed + RouteOutputAgents + ") }}",
		MaxParallel: opts.MaxParallel,
	}
	entryEnvMap := map[string]string{entryEnv: "${{ toJSON(matrix.agent) }}"}
	hasAgents := routeNeed + RouteOutputHasAgents + " == 'true'"

	preflight := &Stage{
		ID:          StagePreflight,
		Name:        "Pre-flight",
		Permissions: map[string]string{"contents": "read"},
		Env:         credentialEnv(opts),
		Steps: append(cloneSteps(setup), Step{
			Name: "Verify AI backend credential",
			Run:  "ra preflight",
		}),
	}

	route := &Stage{
		ID:    StageRoute,
		Name:  "Route event",
		Needs: []string{StagePreflight},
		Permissions: map[string]string{
			"contents": "read",
			"issues":   "read",
		},
		Outputs: map[string]string{
			RouteOutputAgents:     "${{ steps.route.outputs." + RouteOutputAgents + " }}",
			RouteOutputOutputs:    "${{ steps.route.outputs." + RouteOutputOutputs + " }}",
			RouteOutputHasAgents:  "${{ steps.route.outputs." + RouteOutputHasAgents + " }}",
			RouteOutputHasOutputs: "${{ steps.route.outputs." + RouteOutputHasOutputs + " }}",
		},
		Steps: append(cloneSteps(setup), Step{
			ID:   "route",
			Name: "Match agents",
			Run:  "ra route --agents-dir " + shellQuote(opts.AgentsDir),
		}),
	}

	validation := &Stage{
		ID:     StageValidation,
		Name:   "Validate ${{ matrix.agent.name }}",
		Needs:  []string{StageRoute},
		If:     hasAgents,
		Matrix: agentMatrix,
		Permissions: map[string]string{
			"actions":       "read",
			"contents":      "read",
			"issues":        "read",
			"pull-requests": "read",
		},
		Env: entryEnvMap,
		Steps: append(cloneSteps(setup),
			Step{
				ID:   StepVerdict,
				Name: "Admission checks",
				Run:  "ra admit --out " + verdictDir + "/verdict.json",
			},
			Step{
				Name: "Upload verdict",
				Uses: "actions/upload-artifact@v4",
				With: map[string]string{
					"name":           ArtifactVerdict + agentSlugExpr,
					"path":           verdictDir,
					"retention-days": "1",
				},
			},
		),
	}

	admitted := "steps." + StepVerdict + ".outputs.should_run == 'true'"
	collected := admitted + " && steps." + StepContext + ".outputs.skip != 'true'"
	execution := &Stage{
		ID:          StageExecution,
		Name:        types.ExecutionJobPrefix + "${{ matrix.agent.name }}",
		Needs:       []string{StageRoute, StageValidation},
		If:          "always() && " + hasAgents,
		Matrix:      agentMatrix,
		Permissions: executionPermissions(g.Table),
		Env:         mergeEnv(entryEnvMap, credentialEnv(opts)),
		Timeout:     maxTimeout(defs),
		Steps: append([]Step{
			downloadStep("Download verdict", ArtifactVerdict+agentSlugExpr, verdictDir),
			{
				ID:   StepVerdict,
				Name: "Read verdict",
				Run:  readJSONField(verdictDir+"/verdict.json", "should_run", "should_run", "false"),
			},
		}, append(gate(cloneSteps(setup), admitted),
			Step{
				ID:   StepContext,
				Name: "Collect context",
				If:   admitted,
				Run:  "ra context --out " + contextFile + " --status " + executionDir + "/status.json",
			},
			Step{
				ID:   StepExecution,
				Name: types.ExecutionStepName,
				If:   collected,
				Run: "ra execute --verdict " + verdictDir + "/verdict.json --context " + contextFile +
					" --outputs-dir " + outputsDir + " --status " + executionDir + "/status.json",
			},
			Step{
				Name: "Upload proposed outputs",
				If:   "always() && " + admitted,
				Uses: "actions/upload-artifact@v4",
				With: map[string]string{
					"name":                 ArtifactOutputs + agentSlugExpr,
					"path":                 outputsDir,
					"if-no-files-found":    "ignore",
					"retention-days":       "1",
					"include-hidden-files": "true",
				},
			},
			Step{
				Name: "Upload execution status",
				If:   "always() && " + admitted,
				Uses: "actions/upload-artifact@v4",
				With: map[string]string{
					"name":              ArtifactExecution + agentSlugExpr,
					"path":              executionDir,
					"if-no-files-found": "ignore",
					"retention-days":    "1",
				},
			},
		)...),
	}

	outputSlug := "${{ matrix.output.slug }}"
	succeeded := "steps." + StepResult + ".outputs.status == 'success'"
	outputs := &Stage{
		ID:    StageOutputs,
		Name:  "${{ matrix.output.kind }} for ${{ matrix.output.agent }}",
		Needs: []string{StageRoute, StageExecution},
		If:    "always() && " + routeNeed + RouteOutputHasOutputs + " == 'true'",
		Matrix: &Matrix{
			Key:         "output",
			Source:      "${{ fromJSON(" + routeNeed + RouteOutputOutputs + ") }}",
			MaxParallel: opts.MaxParallel,
		},
		Permissions: executionPermissions(g.Table),
		Env:         map[string]string{outputEnv: "${{ toJSON(matrix.output) }}"},
		Steps: append([]Step{
			downloadStep("Download execution status", ArtifactExecution+outputSlug, executionDir),
			{
				ID:   StepResult,
				Name: "Read execution status",
				Run:  readJSONField(executionDir+"/status.json", "status", "status", "missing"),
			},
		}, gate(append(cloneSteps(setup),
			downloadStep("Download proposed outputs", ArtifactOutputs+outputSlug, outputsDir),
			Step{
				Name: "Apply outputs",
				Run:  "ra outputs --agents-dir " + shellQuote(opts.AgentsDir) + " --outputs-dir " + outputsDir + " --results-dir " + resultsDir,
			},
			Step{
				Name: "Upload output result",
				If:   "always()",
				Uses: "actions/upload-artifact@v4",
				With: map[string]string{
					"name":              "result-" + outputSlug + "-${{ matrix.output.kind }}",
					"path":              resultsDir,
					"if-no-files-found": "ignore",
					"retention-days":    "1",
				},
			},
		), succeeded)...),
	}

	audit := &Stage{
		ID:          StageAudit,
		Name:        "Audit ${{ matrix.agent.name }}",
		Needs:       []string{StageRoute, StageValidation, StageExecution, StageOutputs},
		If:          "always() && " + hasAgents,
		Matrix:      agentMatrix,
		Permissions: auditPermissions(defs),
		Env:         entryEnvMap,
		Steps: append([]Step{
			downloadStep("Download verdict", ArtifactVerdict+agentSlugExpr, verdictDir),
			downloadStep("Download execution status", ArtifactExecution+agentSlugExpr, executionDir),
			{
				Name:            "Download output results",
				Uses:            "actions/download-artifact@v4",
				ContinueOnError: true,
				With: map[string]string{
					"pattern":        "result-" + agentSlugExpr + "-*",
					"path":           resultsDir,
					"merge-multiple": "true",
				},
			},
		}, append(cloneSteps(setup),
			Step{
				Name: "Record audit",
				Run: "ra audit --verdict " + verdictDir + "/verdict.json --status " + executionDir +
					"/status.json --results-dir " + resultsDir,
			},
		)...),
	}

	return []*Stage{preflight, route, validation, execution, outputs, audit}
}

func setupSteps(opts Options) []Step {
	return []Step{
		{Name: "Checkout", Uses: "actions/checkout@v4"},
		{
			Name: "Set up Go",
			Uses: "actions/setup-go@v5",
			With: map[string]string{"go-version": opts.GoVersion, "cache": "false"},
		},
		{
			Name: "Install ra",
			Run:  "go install " + ToolModule + "@" + opts.ToolVersion,
		},
	}
}

func cloneSteps(steps []Step) []Step {
	return append([]Step(nil), steps...)
}

// gate adds cond to every step's condition.
func gate(steps []Step, cond string) []Step {
	for i := range steps {
		if steps[i].If == "" {
			steps[i].If = cond
		} else {
			steps[i].If = "(" + steps[i].If + ") && " + cond
		}
	}
	return steps
}

func downloadStep(name, artifact, path string) Step {
	return Step{
		Name:            name,
		Uses:            "actions/download-artifact@v4",
		ContinueOnError: true,
		With:            map[string]string{"name": artifact, "path": path},
	}
}

// readJSONField emits a shell step body that copies one JSON field to a step
// output, falling back when the file is missing.
func readJSONField(file, field, output, fallback string) string {
	return fmt.Sprintf("value=$(jq -r '.%s // empty' %s 2>/dev/null || true)\necho \"%s=${value:-%s}\" >> \"$GITHUB_OUTPUT\"",
		field, file, output, fallback)
}

func credentialEnv(opts Options) map[string]string {
	env := make(map[string]string, len(opts.CredentialEnv))
	for _, name := range opts.CredentialEnv {
		env[name] = "${{ secrets." + name + " }}"
	}
	return env
}

func mergeEnv(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// executionPermissions grants the aggregated agent permissions plus the
// read access every stage needs to check out the repository.
func executionPermissions(t *RoutingTable) map[string]string {
	perms := map[string]string{"contents": "read"}
	for _, res := range t.Permissions.SortedResources() {
		level := t.Permissions.Get(res)
		if level == types.LevelNone && perms[string(res)] != "" {
			continue
		}
		perms[string(res)] = level.String()
	}
	return perms
}

func auditPermissions(defs []*types.AgentDefinition) map[string]string {
	perms := map[string]string{"contents": "read", "issues": "read"}
	for _, def := range defs {
		if def.Audit.CreateIssues {
			perms["issues"] = "write"
			break
		}
	}
	return perms
}

func maxTimeout(defs []*types.AgentDefinition) int {
	max := 0
	for _, def := range defs {
		if def.TimeoutMinutes > max {
			max = def.TimeoutMinutes
		}
	}
	if max == 0 {
		return DefaultTimeoutMinutes
	}
	return max
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// sortedKeys returns map keys in sorted order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
