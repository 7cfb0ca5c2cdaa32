package compiler

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/repoagents/internal/types"
)

// GeneratedHeader opens every rendered workflow.
const GeneratedHeader = "Code generated by ra compile. DO NOT EDIT."

// Render serializes the graph as a GitHub Actions workflow. Output is
// deterministic: the same graph always renders to the same bytes.
func Render(g *PipelineGraph, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	doc := mapping()
	doc.HeadComment = "# " + GeneratedHeader + "\n# Source: " + opts.AgentsDir
	put(doc, "name", str(g.Name))
	put(doc, "on", renderTriggers(g.Table))
	put(doc, "permissions", renderPermissionSet(g.Table.Permissions))
	put(doc, "env", renderStringMap(map[string]string{
		"GITHUB_TOKEN":  "${{ github.token }}",
		"RA_AGENTS_DIR": opts.AgentsDir,
	}))
	put(doc, "concurrency", pairs(
		"group", str("${{ github.workflow }}-${{ github.event.issue.number || github.event.pull_request.number || github.event.discussion.number || github.run_id }}"),
		"cancel-in-progress", boolean(false),
	))

	jobs := mapping()
	for _, stage := range g.Stages {
		put(jobs, stage.ID, renderStage(stage, opts))
	}
	put(doc, "jobs", jobs)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc}}); err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}
	return buf.Bytes(), nil
}

func renderTriggers(t *RoutingTable) *yaml.Node {
	on := mapping()
	families := t.Families()
	if t.RetryOnClose && !t.Has(types.TriggerIssues) {
		families = append([]types.TriggerKind{types.TriggerIssues}, families...)
	}
	for _, kind := range families {
		switch kind {
		case types.TriggerSchedule:
			crons := sequence()
			for _, c := range t.Filters[kind] {
				crons.Content = append(crons.Content, pairs("cron", quoted(c)))
			}
			put(on, string(kind), crons)
		case types.TriggerWorkflowDispatch:
			put(on, string(kind), pairs("inputs", pairs(
				"agent", pairs(
					"description", str("Run only this agent (by name)"),
					"required", boolean(false),
					"type", str("string"),
				),
			)))
		default:
			put(on, string(kind), pairs("types", flowList(t.EventTypes(kind))))
		}
	}
	return on
}

func renderPermissionSet(p types.PermissionSet) *yaml.Node {
	m := mapping()
	for _, res := range types.Resources() {
		if level, ok := p[res]; ok {
			put(m, string(res), str(level.String()))
		}
	}
	return m
}

func renderStage(s *Stage, opts Options) *yaml.Node {
	job := mapping()
	put(job, "name", str(s.Name))
	if len(s.Needs) > 0 {
		put(job, "needs", flowList(s.Needs))
	}
	if s.If != "" {
		put(job, "if", str(s.If))
	}
	put(job, "runs-on", str(opts.RunsOn))
	if s.Timeout > 0 {
		put(job, "timeout-minutes", integer(s.Timeout))
	}
	if len(s.Permissions) > 0 {
		put(job, "permissions", renderStringMap(s.Permissions))
	}
	if s.Matrix != nil {
		strategy := pairs(
			"fail-fast", boolean(s.Matrix.FailFast),
			"matrix", pairs(s.Matrix.Key, str(s.Matrix.Source)),
		)
		if s.Matrix.MaxParallel > 0 {
			put(strategy, "max-parallel", integer(s.Matrix.MaxParallel))
		}
		put(job, "strategy", strategy)
	}
	if len(s.Env) > 0 {
		put(job, "env", renderStringMap(s.Env))
	}
	if len(s.Outputs) > 0 {
		put(job, "outputs", renderStringMap(s.Outputs))
	}

	steps := sequence()
	for _, step := range s.Steps {
		steps.Content = append(steps.Content, renderStep(step))
	}
	put(job, "steps", steps)
	return job
}

func renderStep(s Step) *yaml.Node {
	m := mapping()
	put(m, "name", str(s.Name))
	if s.ID != "" {
		put(m, "id", str(s.ID))
	}
	if s.If != "" {
		put(m, "if", str(s.If))
	}
	if s.ContinueOnError {
		put(m, "continue-on-error", boolean(true))
	}
	if s.Uses != "" {
		put(m, "uses", str(s.Uses))
	}
	if len(s.With) > 0 {
		put(m, "with", renderStringMap(s.With))
	}
	if len(s.Env) > 0 {
		put(m, "env", renderStringMap(s.Env))
	}
	if s.Shell != "" {
		put(m, "shell", str(s.Shell))
	}
	if s.Run != "" {
		run := str(s.Run)
		if strings.Contains(s.Run, "\n") {
			run.Style = yaml.LiteralStyle
		}
		put(m, "run", run)
	}
	return m
}

func renderStringMap(values map[string]string) *yaml.Node {
	m := mapping()
	for _, k := range sortedKeys(values) {
		put(m, k, str(values[k]))
	}
	return m
}

// ── yaml.Node helpers ───────────────────────────────────────────────────────

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func sequence() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode}
}

func put(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, str(key), value)
}

// pairs builds a mapping from alternating key/value arguments.
func pairs(kv ...any) *yaml.Node {
	m := mapping()
	for i := 0; i+1 < len(kv); i += 2 {
		put(m, kv[i].(string), kv[i+1].(*yaml.Node))
	}
	return m
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func quoted(v string) *yaml.Node {
	n := str(v)
	n.Style = yaml.DoubleQuotedStyle
	return n
}

func boolean(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func integer(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

func flowList(values []string) *yaml.Node {
	seq := sequence()
	seq.Style = yaml.FlowStyle
	for _, v := range values {
		seq.Content = append(seq.Content, str(v))
	}
	return seq
}
