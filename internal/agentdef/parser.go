// Package agentdef parses and validates agent definition files.
//
// An agent definition is a markdown file whose front matter configures the
// agent and whose body holds the free-text instructions:
//
//	---
//	name: Issue Triage
//	on:
//	  issues:
//	    types: [opened, reopened]
//	permissions:
//	  issues: write
//	outputs:
//	  add-label: { max: 3 }
//	  add-comment: true
//	rate_limit_minutes: 10
//	---
//	Read the issue and apply the labels that fit best.
//
// Front matter may also be TOML, delimited by "+++" lines.
//
// Parsing runs in three phases. The structural phase splits and decodes the
// front matter; any failure there is fatal. The schema phase checks every
// field's type, enum membership and range, accumulating field-scoped
// diagnostics. The semantic phase (ValidateSemantics) is invoked separately
// and checks cross-field business rules.
package agentdef

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/repoagents/internal/types"
)

// Front matter delimiters.
const (
	DelimYAML = "---"
	DelimTOML = "+++"
)

// MaxFileSize is the largest definition file the parser accepts (1 MiB).
const MaxFileSize = 1 << 20

// FrontMatter is the result of the structural phase.
type FrontMatter struct {
	Format string         // "yaml" or "toml"
	Fields map[string]any // decoded front matter
	Body   string         // instructions, trimmed
}

// Parse parses one definition file through the structural and schema phases.
// It returns nil when the file has a structural error or any schema error.
// Warnings are returned alongside a non-nil definition.
// Semantic rules are not checked; call ValidateSemantics for that.
func Parse(path string, data []byte) (*types.AgentDefinition, types.Diagnostics) {
	fm, err := SplitFrontMatter(data)
	if err != nil {
		return nil, types.Diagnostics{{
			Path:     path,
			Severity: types.SeverityError,
			Kind:     types.KindStructural,
			Message:  err.Error(),
		}}
	}

	def, diags := decodeDefinition(fm.Fields, fm.Body)
	diags = diags.WithPath(path)
	if diags.HasErrors() {
		return nil, diags
	}
	def.Path = path
	return def, diags
}

// ParseAndValidate runs all three phases and returns every diagnostic.
// The definition is nil if any phase reported an error.
func ParseAndValidate(path string, data []byte) (*types.AgentDefinition, types.Diagnostics) {
	def, diags := Parse(path, data)
	if def == nil {
		return nil, diags
	}
	diags = append(diags, ValidateSemantics(def)...)
	if diags.HasErrors() {
		return nil, diags
	}
	return def, diags
}

// SplitFrontMatter separates and decodes the front matter block.
// Errors returned here are structural: missing or unterminated delimiters,
// oversized input, or front matter that is not valid YAML/TOML.
func SplitFrontMatter(data []byte) (*FrontMatter, error) {
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("file too large (%d bytes, max %d)", len(data), MaxFileSize)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	lines := strings.Split(content, "\n")
	// Skip leading blank lines before the opening delimiter.
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return nil, fmt.Errorf("empty file: missing front matter")
	}

	delim := strings.TrimRight(lines[start], " \t")
	var format string
	switch delim {
	case DelimYAML:
		format = "yaml"
	case DelimTOML:
		format = "toml"
	default:
		return nil, fmt.Errorf("missing front matter delimiter: first line must be %q or %q", DelimYAML, DelimTOML)
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t") == delim {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("missing closing front matter delimiter %q", delim)
	}

	raw := strings.Join(lines[start+1:end], "\n")
	body := strings.TrimSpace(strings.Join(lines[end+1:], "\n"))

	fields, err := decodeFrontMatter(format, raw)
	if err != nil {
		return nil, err
	}
	return &FrontMatter{Format: format, Fields: fields, Body: body}, nil
}

func decodeFrontMatter(format, raw string) (map[string]any, error) {
	fields := make(map[string]any)
	switch format {
	case "toml":
		if _, err := toml.Decode(raw, &fields); err != nil {
			return nil, fmt.Errorf("invalid TOML front matter: %w", err)
		}
	default:
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
			return nil, fmt.Errorf("invalid YAML front matter: %w", err)
		}
		if len(node.Content) == 0 {
			return fields, nil
		}
		if node.Content[0].Kind != yaml.MappingNode {
			return nil, fmt.Errorf("invalid YAML front matter: top level must be a mapping")
		}
		if err := node.Decode(&fields); err != nil {
			return nil, fmt.Errorf("invalid YAML front matter: %w", err)
		}
	}
	for k, v := range fields {
		fields[k] = normalizeValue(v)
	}
	return fields, nil
}

// normalizeValue converts decoder-specific container types (TOML table
// arrays, YAML maps with non-string keys) to []any and map[string]any.
func normalizeValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		for k, item := range tv {
			tv[k] = normalizeValue(item)
		}
		return tv
	case map[any]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		for i, item := range tv {
			tv[i] = normalizeValue(item)
		}
		return tv
	}
	return v
}
