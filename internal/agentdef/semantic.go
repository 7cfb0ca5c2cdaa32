package agentdef

import (
	"fmt"

	"github.com/steveyegge/repoagents/internal/types"
)

// ValidateSemantics checks cross-field rules on a definition that passed the
// schema phase. Every violation is returned; nothing short-circuits.
func ValidateSemantics(def *types.AgentDefinition) types.Diagnostics {
	var diags types.Diagnostics
	errorf := func(field, format string, args ...any) {
		diags = append(diags, types.Diagnostic{
			Path:     def.Path,
			Field:    field,
			Severity: types.SeverityError,
			Kind:     types.KindSemantic,
			Message:  fmt.Sprintf(format, args...),
		})
	}
	warnf := func(field, format string, args ...any) {
		diags = append(diags, types.Diagnostic{
			Path:     def.Path,
			Field:    field,
			Severity: types.SeverityWarning,
			Kind:     types.KindSemantic,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if len(def.Triggers) == 0 {
		errorf("on", "at least one trigger is required")
	}

	contentsWrite := def.Permissions.Get(types.ResourceContents) == types.LevelWrite
	for _, out := range def.Outputs {
		if out.Kind == types.OutputUpdateFile && len(out.Paths) == 0 {
			errorf("outputs", "update-file requires a non-empty paths allow-list")
		}
		if out.Kind.RequiresContentsWrite() && !contentsWrite {
			errorf("permissions", "%s requires contents: write", out.Kind)
		}
		if len(out.Paths) > 0 && out.Kind != types.OutputUpdateFile && out.Kind != types.OutputCreatePR {
			warnf("outputs", "%s ignores the paths constraint", out.Kind)
		}
		if res, ok := requiredResource(out.Kind); ok && def.Permissions.Get(res) < types.LevelWrite {
			warnf("permissions", "%s usually needs %s: write", out.Kind, res)
		}
	}

	hasLabelTrigger := false
	for _, t := range def.Triggers {
		if t.Kind.HasLabels() {
			hasLabelTrigger = true
		}
	}
	if !hasLabelTrigger {
		if len(def.Authorization.TriggerLabels) > 0 {
			warnf("trigger_labels", "no issue, pull request or discussion trigger; trigger labels are always satisfied")
		}
		if len(def.Authorization.SkipLabels) > 0 {
			warnf("skip_labels", "no issue, pull request or discussion trigger; skip labels never apply")
		}
	}

	if def.MaxOpenPRs > 0 {
		if _, ok := def.Output(types.OutputCreatePR); !ok {
			warnf("max_open_prs", "set without a create-pr output")
		}
	}

	if c := def.Context; c != nil && c.Limit > 0 && c.MinItems > c.Limit {
		errorf("context.min_items", "min_items (%d) exceeds limit (%d); context would never be collected", c.MinItems, c.Limit)
	}

	if len(def.Audit.Labels) > 0 || len(def.Audit.Assignees) > 0 {
		if !def.Audit.CreateIssues {
			warnf("audit", "labels and assignees are unused unless create_issues is true")
		}
	}

	return diags
}

// requiredResource returns the resource a comment/label/issue output writes to.
func requiredResource(kind types.OutputKind) (types.Resource, bool) {
	switch kind {
	case types.OutputAddLabel, types.OutputRemoveLabel, types.OutputCreateIssue, types.OutputCloseIssue:
		return types.ResourceIssues, true
	case types.OutputClosePR:
		return types.ResourcePullRequests, true
	case types.OutputCreateDiscussion:
		return types.ResourceDiscussions, true
	}
	return "", false
}
