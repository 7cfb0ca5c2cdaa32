package agentdef

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/steveyegge/repoagents/internal/timeparsing"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

// Activity types accepted per trigger family.
var validActionTypes = map[types.TriggerKind][]string{
	types.TriggerIssues: {
		"opened", "edited", "deleted", "transferred", "pinned", "unpinned",
		"closed", "reopened", "assigned", "unassigned", "labeled", "unlabeled",
		"locked", "unlocked", "milestoned", "demilestoned", "typed", "untyped",
	},
	types.TriggerPullRequest: {
		"opened", "edited", "closed", "reopened", "synchronize", "assigned",
		"unassigned", "labeled", "unlabeled", "converted_to_draft",
		"ready_for_review", "locked", "unlocked", "review_requested",
		"review_request_removed", "auto_merge_enabled", "auto_merge_disabled",
		"milestoned", "demilestoned", "enqueued", "dequeued",
	},
	types.TriggerDiscussion: {
		"created", "edited", "deleted", "transferred", "pinned", "unpinned",
		"labeled", "unlabeled", "locked", "unlocked", "category_changed",
		"answered", "unanswered",
	},
}

// ValidActionTypes returns the accepted activity types for a trigger family,
// or nil if the family has free-form or no types.
func ValidActionTypes(kind types.TriggerKind) []string {
	return validActionTypes[kind]
}

var triggerAliases = map[string]types.TriggerKind{
	"issue":         types.TriggerIssues,
	"pull_requests": types.TriggerPullRequest,
	"discussions":   types.TriggerDiscussion,
}

// cronParser accepts standard 5-field cron expressions, the only form the
// workflow scheduler supports.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schema limits.
const (
	MaxTimeoutMinutes = 360
)

var validContextSources = map[string]bool{
	"issues":        true,
	"pull_requests": true,
	"discussions":   true,
}

// schema accumulates field-scoped diagnostics while decoding front matter.
type schema struct {
	diags types.Diagnostics
}

func (s *schema) errorf(field, format string, args ...any) {
	s.diags = append(s.diags, types.Diagnostic{
		Field:    field,
		Severity: types.SeverityError,
		Kind:     types.KindSchema,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (s *schema) warnf(field, format string, args ...any) {
	s.diags = append(s.diags, types.Diagnostic{
		Field:    field,
		Severity: types.SeverityWarning,
		Kind:     types.KindSchema,
		Message:  fmt.Sprintf(format, args...),
	})
}

// normalizeKey maps hyphenated keys to their underscore form.
func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
}

// decodeDefinition runs the schema phase over decoded front matter.
func decodeDefinition(fields map[string]any, body string) (*types.AgentDefinition, types.Diagnostics) {
	s := &schema{}
	def := &types.AgentDefinition{
		RateLimit:    types.RateLimitPolicy{Minutes: types.DefaultRateLimitMinutes},
		Instructions: body,
	}

	seen := make(map[string]string)
	for _, rawKey := range sortedKeys(fields) {
		key := normalizeKey(rawKey)
		if prev, dup := seen[key]; dup {
			s.errorf(rawKey, "duplicate field (also set as %q)", prev)
			continue
		}
		seen[key] = rawKey
		v := fields[rawKey]

		switch key {
		case "name":
			if name, ok := s.str(rawKey, v); ok {
				def.Name = strings.TrimSpace(name)
			}
		case "description":
			if desc, ok := s.str(rawKey, v); ok {
				def.Description = desc
			}
		case "on":
			def.Triggers = s.triggers(rawKey, v)
		case "permissions":
			def.Permissions = s.permissions(rawKey, v)
		case "outputs":
			def.Outputs = s.outputs(rawKey, v)
		case "allowed_users":
			def.Authorization.Users, _ = s.stringList(rawKey, v)
		case "allowed_teams":
			def.Authorization.Teams, _ = s.stringList(rawKey, v)
		case "allowed_actors":
			def.Authorization.Actors, _ = s.stringList(rawKey, v)
		case "min_role":
			if role, ok := s.str(rawKey, v); ok {
				r, err := types.ParseRepoRole(role)
				if err != nil {
					s.errorf(rawKey, "%v", err)
				} else {
					def.Authorization.MinRole = &r
				}
			}
		case "trigger_labels":
			def.Authorization.TriggerLabels, _ = s.stringList(rawKey, v)
		case "skip_labels":
			def.Authorization.SkipLabels, _ = s.stringList(rawKey, v)
		case "allow_bot_triggers":
			def.Authorization.AllowBots, _ = s.boolean(rawKey, v)
		case "rate_limit_minutes":
			if n, ok := s.integer(rawKey, v, 0, math.MaxInt32); ok {
				def.RateLimit.Minutes = n
			}
		case "max_open_prs":
			def.MaxOpenPRs, _ = s.integer(rawKey, v, 0, math.MaxInt32)
		case "timeout_minutes":
			def.TimeoutMinutes, _ = s.integer(rawKey, v, 1, MaxTimeoutMinutes)
		case "pre_flight":
			def.PreFlight = s.preFlight(rawKey, v)
		case "audit":
			def.Audit = s.audit(rawKey, v)
		case "model", "claude":
			def.Model = s.model(rawKey, v)
		case "context":
			def.Context = s.context(rawKey, v)
		default:
			s.warnf(rawKey, "unknown field (ignored)")
		}
	}

	if def.Name == "" {
		if _, present := seen["name"]; !present {
			s.errorf("name", "required field is missing")
		} else {
			s.errorf("name", "must not be empty")
		}
	} else if util.Slugify(def.Name) == "" {
		s.errorf("name", "must contain at least one letter or digit")
	}

	if body == "" {
		s.warnf("instructions", "instruction body is empty")
	}

	return def, s.diags
}

func (s *schema) triggers(field string, v any) []types.Trigger {
	m, ok := s.mapping(field, v)
	if !ok {
		return nil
	}
	var out []types.Trigger
	for _, rawKey := range sortedKeys(m) {
		key := normalizeKey(rawKey)
		kind := types.TriggerKind(key)
		if alias, ok := triggerAliases[key]; ok {
			kind = alias
		}
		path := field + "." + rawKey
		if !kind.IsValid() {
			s.errorf(path, "unknown trigger %q (valid: issues, pull_request, discussion, schedule, workflow_dispatch, repository_dispatch)", rawKey)
			continue
		}
		if _, dup := findTrigger(out, kind); dup {
			s.errorf(path, "trigger %q declared more than once", kind)
			continue
		}

		val := m[rawKey]
		switch kind {
		case types.TriggerIssues, types.TriggerPullRequest, types.TriggerDiscussion:
			typesList, ok := s.triggerTypes(path, val)
			if !ok {
				continue
			}
			valid := validActionTypes[kind]
			good := true
			for i, t := range typesList {
				if !containsString(valid, t) {
					s.errorf(fmt.Sprintf("%s.types[%d]", path, i), "invalid %s activity type %q", kind, t)
					good = false
				}
			}
			if good {
				out = append(out, types.Trigger{Kind: kind, Types: typesList})
			}
		case types.TriggerRepositoryDispatch:
			if typesList, ok := s.triggerTypes(path, val); ok {
				out = append(out, types.Trigger{Kind: kind, Types: typesList})
			}
		case types.TriggerSchedule:
			if crons, ok := s.schedule(path, val); ok {
				out = append(out, types.Trigger{Kind: kind, Crons: crons})
			}
		case types.TriggerWorkflowDispatch:
			switch tv := val.(type) {
			case nil:
				out = append(out, types.Trigger{Kind: kind})
			case bool:
				if tv {
					out = append(out, types.Trigger{Kind: kind})
				}
			case map[string]any, map[any]any:
				out = append(out, types.Trigger{Kind: kind})
			default:
				s.errorf(path, "expected true or a mapping, got %s", typeName(val))
			}
		}
	}
	types.SortTriggers(out)
	return out
}

// triggerTypes accepts either {types: [...]} or a bare list.
func (s *schema) triggerTypes(path string, v any) ([]string, bool) {
	var list any = v
	listPath := path
	if m, isMap := asMap(v); isMap {
		for k := range m {
			if normalizeKey(k) != "types" {
				s.warnf(path+"."+k, "unknown trigger filter (ignored)")
			}
		}
		list = lookup(m, "types")
		listPath = path + ".types"
	}
	if list == nil {
		s.errorf(listPath, "at least one type is required")
		return nil, false
	}
	out, ok := s.stringList(listPath, list)
	if !ok {
		return nil, false
	}
	if len(out) == 0 {
		s.errorf(listPath, "at least one type is required")
		return nil, false
	}
	return out, true
}

// schedule accepts a list of {cron: "..."} mappings or bare cron strings.
func (s *schema) schedule(path string, v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		if str, isStr := v.(string); isStr {
			items = []any{str}
		} else {
			s.errorf(path, "expected a list of cron entries, got %s", typeName(v))
			return nil, false
		}
	}
	if len(items) == 0 {
		s.errorf(path, "at least one cron entry is required")
		return nil, false
	}
	var crons []string
	good := true
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		var expr string
		switch iv := item.(type) {
		case string:
			expr = iv
		default:
			m, isMap := asMap(item)
			if !isMap {
				s.errorf(itemPath, "expected a cron string or {cron: ...}, got %s", typeName(item))
				good = false
				continue
			}
			c, present := m["cron"]
			if !present {
				s.errorf(itemPath+".cron", "required field is missing")
				good = false
				continue
			}
			str, isStr := s.str(itemPath+".cron", c)
			if !isStr {
				good = false
				continue
			}
			expr = str
		}
		expr = strings.TrimSpace(expr)
		if _, err := cronParser.Parse(expr); err != nil {
			s.errorf(itemPath, "invalid cron expression %q: %v", expr, err)
			good = false
			continue
		}
		crons = util.UnionStrings(crons, []string{expr})
	}
	return crons, good
}

func (s *schema) permissions(field string, v any) types.PermissionSet {
	m, ok := s.mapping(field, v)
	if !ok {
		return nil
	}
	perms := make(types.PermissionSet)
	for _, rawKey := range sortedKeys(m) {
		path := field + "." + rawKey
		res, err := types.ParseResource(rawKey)
		if err != nil {
			s.errorf(path, "%v", err)
			continue
		}
		str, ok := s.str(path, m[rawKey])
		if !ok {
			continue
		}
		level, err := types.ParseLevel(str)
		if err != nil {
			s.errorf(path, "%v", err)
			continue
		}
		if _, dup := perms[res]; dup {
			s.errorf(path, "permission %q set more than once", res)
			continue
		}
		perms[res] = level
	}
	return perms
}

// outputs accepts a mapping of kind -> (true | constraints) or a list of kinds.
func (s *schema) outputs(field string, v any) []types.OutputCapability {
	if list, isList := v.([]any); isList {
		var out []types.OutputCapability
		for i, item := range list {
			path := fmt.Sprintf("%s[%d]", field, i)
			name, ok := s.str(path, item)
			if !ok {
				continue
			}
			if kind, ok := s.outputKind(path, name); ok {
				out = appendOutput(s, path, out, types.OutputCapability{Kind: kind})
			}
		}
		return out
	}

	m, ok := s.mapping(field, v)
	if !ok {
		return nil
	}
	var out []types.OutputCapability
	for _, rawKey := range sortedKeys(m) {
		path := field + "." + rawKey
		kind, ok := s.outputKind(path, rawKey)
		if !ok {
			continue
		}
		capability := types.OutputCapability{Kind: kind}
		switch cv := m[rawKey].(type) {
		case nil:
		case bool:
			if !cv {
				continue
			}
		default:
			cm, isMap := asMap(cv)
			if !isMap {
				s.errorf(path, "expected true or a mapping of constraints, got %s", typeName(cv))
				continue
			}
			for _, ck := range sortedKeys(cm) {
				cpath := path + "." + ck
				switch normalizeKey(ck) {
				case "max":
					capability.Max, _ = s.integer(cpath, cm[ck], 1, math.MaxInt32)
				case "sign", "signed":
					capability.Sign, _ = s.boolean(cpath, cm[ck])
				case "paths", "allowed_paths":
					paths, _ := s.stringList(cpath, cm[ck])
					for i, p := range paths {
						if strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
							s.errorf(fmt.Sprintf("%s[%d]", cpath, i), "path pattern %q must be relative to the repository root", p)
						}
					}
					capability.Paths = paths
				default:
					if capability.Extra == nil {
						capability.Extra = make(map[string]any)
					}
					capability.Extra[ck] = cm[ck]
				}
			}
		}
		out = appendOutput(s, path, out, capability)
	}
	return out
}

func appendOutput(s *schema, path string, out []types.OutputCapability, c types.OutputCapability) []types.OutputCapability {
	for _, existing := range out {
		if existing.Kind == c.Kind {
			s.errorf(path, "output %q declared more than once", c.Kind)
			return out
		}
	}
	return append(out, c)
}

func (s *schema) outputKind(path, name string) (types.OutputKind, bool) {
	kind := types.OutputKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-"))
	if !kind.IsValid() {
		valid := make([]string, 0, len(types.OutputKinds()))
		for _, k := range types.OutputKinds() {
			valid = append(valid, string(k))
		}
		s.errorf(path, "unknown output kind %q (valid: %s)", name, strings.Join(valid, ", "))
		return "", false
	}
	return kind, true
}

func (s *schema) preFlight(field string, v any) types.PreFlightPolicy {
	var p types.PreFlightPolicy
	m, ok := s.mapping(field, v)
	if !ok {
		return p
	}
	for _, k := range sortedKeys(m) {
		path := field + "." + k
		switch normalizeKey(k) {
		case "check_blocking_issues":
			p.CheckBlockingIssues, _ = s.boolean(path, m[k])
		case "max_estimate":
			p.MaxEstimate, _ = s.integer(path, m[k], 0, math.MaxInt32)
		default:
			s.warnf(path, "unknown field (ignored)")
		}
	}
	return p
}

func (s *schema) audit(field string, v any) types.AuditPolicy {
	var a types.AuditPolicy
	m, ok := s.mapping(field, v)
	if !ok {
		return a
	}
	for _, k := range sortedKeys(m) {
		path := field + "." + k
		switch normalizeKey(k) {
		case "create_issues":
			a.CreateIssues, _ = s.boolean(path, m[k])
		case "labels":
			a.Labels, _ = s.stringList(path, m[k])
		case "assignees":
			a.Assignees, _ = s.stringList(path, m[k])
		default:
			s.warnf(path, "unknown field (ignored)")
		}
	}
	return a
}

func (s *schema) model(field string, v any) types.ModelConfig {
	var mc types.ModelConfig
	m, ok := s.mapping(field, v)
	if !ok {
		return mc
	}
	for _, k := range sortedKeys(m) {
		path := field + "." + k
		switch normalizeKey(k) {
		case "model", "name":
			mc.Name, _ = s.str(path, m[k])
		case "max_tokens":
			mc.MaxTokens, _ = s.integer(path, m[k], 1, math.MaxInt32)
		case "temperature":
			if t, ok := s.number(path, m[k], 0, 1); ok {
				mc.Temperature = &t
			}
		default:
			s.warnf(path, "unknown field (ignored)")
		}
	}
	return mc
}

func (s *schema) context(field string, v any) *types.ContextConfig {
	m, ok := s.mapping(field, v)
	if !ok {
		return nil
	}
	cc := &types.ContextConfig{}
	for _, k := range sortedKeys(m) {
		path := field + "." + k
		switch normalizeKey(k) {
		case "since":
			if since, ok := s.str(path, m[k]); ok {
				if !timeparsing.IsValidExpression(since) {
					s.errorf(path, "cannot parse %q as a time or duration", since)
				}
				cc.Since = since
			}
		case "min_items":
			cc.MinItems, _ = s.integer(path, m[k], 0, math.MaxInt32)
		case "limit":
			cc.Limit, _ = s.integer(path, m[k], 0, 1000)
		case "labels":
			cc.Labels, _ = s.stringList(path, m[k])
		case "include":
			include, _ := s.stringList(path, m[k])
			for i, src := range include {
				if !validContextSources[src] {
					s.errorf(fmt.Sprintf("%s[%d]", path, i), "unknown context source %q", src)
				}
			}
			cc.Include = include
		default:
			s.warnf(path, "unknown field (ignored)")
		}
	}
	return cc
}

// ── Scalar helpers ──────────────────────────────────────────────────────────

func (s *schema) str(field string, v any) (string, bool) {
	str, ok := v.(string)
	if !ok {
		s.errorf(field, "expected a string, got %s", typeName(v))
		return "", false
	}
	return str, true
}

func (s *schema) boolean(field string, v any) (bool, bool) {
	b, ok := v.(bool)
	if !ok {
		s.errorf(field, "expected a boolean, got %s", typeName(v))
		return false, false
	}
	return b, true
}

func (s *schema) integer(field string, v any, lo, hi int) (int, bool) {
	n, ok := asInt(v)
	if !ok {
		s.errorf(field, "expected an integer, got %s", typeName(v))
		return 0, false
	}
	if n < lo || n > hi {
		if hi == math.MaxInt32 {
			s.errorf(field, "must be >= %d, got %d", lo, n)
		} else {
			s.errorf(field, "must be between %d and %d, got %d", lo, hi, n)
		}
		return 0, false
	}
	return n, true
}

func (s *schema) number(field string, v any, lo, hi float64) (float64, bool) {
	var f float64
	switch nv := v.(type) {
	case float64:
		f = nv
	default:
		n, ok := asInt(v)
		if !ok {
			s.errorf(field, "expected a number, got %s", typeName(v))
			return 0, false
		}
		f = float64(n)
	}
	if math.IsNaN(f) || f < lo || f > hi {
		s.errorf(field, "must be between %g and %g, got %g", lo, hi, f)
		return 0, false
	}
	return f, true
}

// stringList accepts a list of strings or a single string.
func (s *schema) stringList(field string, v any) ([]string, bool) {
	switch lv := v.(type) {
	case nil:
		return nil, true
	case string:
		return util.NormalizeLabels([]string{lv}), true
	case []any:
		out := make([]string, 0, len(lv))
		good := true
		for i, item := range lv {
			str, ok := item.(string)
			if !ok {
				s.errorf(fmt.Sprintf("%s[%d]", field, i), "expected a string, got %s", typeName(item))
				good = false
				continue
			}
			out = append(out, str)
		}
		return util.NormalizeLabels(out), good
	case []string:
		return util.NormalizeLabels(lv), true
	}
	s.errorf(field, "expected a list of strings, got %s", typeName(v))
	return nil, false
}

func (s *schema) mapping(field string, v any) (map[string]any, bool) {
	m, ok := asMap(v)
	if !ok {
		s.errorf(field, "expected a mapping, got %s", typeName(v))
		return nil, false
	}
	return m, true
}

func asMap(v any) (map[string]any, bool) {
	switch mv := v.(type) {
	case map[string]any:
		return mv, true
	case map[any]any:
		out := make(map[string]any, len(mv))
		for k, val := range mv {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	}
	return 0, false
}

func lookup(m map[string]any, key string) any {
	for k, v := range m {
		if normalizeKey(k) == key {
			return v
		}
	}
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "number"
	case []any, []string:
		return "list"
	case map[string]any, map[any]any:
		return "mapping"
	}
	return fmt.Sprintf("%T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func findTrigger(ts []types.Trigger, kind types.TriggerKind) (types.Trigger, bool) {
	for _, t := range ts {
		if t.Kind == kind {
			return t, true
		}
	}
	return types.Trigger{}, false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
