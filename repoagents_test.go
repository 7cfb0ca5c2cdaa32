package repoagents_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/repoagents"
)

func TestExampleAgentsAreValid(t *testing.T) {
	defs, diags := repoagents.Load(context.Background(), "examples/agents")
	require.False(t, diags.HasErrors(), "diagnostics: %v", diags)
	assert.Len(t, defs, 3)
}

func TestCompileExampleAgents(t *testing.T) {
	out, err := repoagents.Compile(context.Background(), "examples/agents", repoagents.CompileOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# Code generated by ra compile. DO NOT EDIT."))
	assert.Contains(t, string(out), "0 9 * * 5")
}

func TestCompileEmptyDir(t *testing.T) {
	_, err := repoagents.Compile(context.Background(), t.TempDir(), repoagents.CompileOptions{})
	assert.ErrorIs(t, err, repoagents.ErrNoAgents)
}

func TestParseAndMatch(t *testing.T) {
	def, diags := repoagents.Parse("agents/greeter.md", []byte(`---
name: Greeter
on:
  issues:
    types: [opened]
permissions:
  issues: write
outputs:
  add-comment: true
---
Say hello.
`))
	require.NotNil(t, def, "diagnostics: %v", diags)

	ev, err := repoagents.ParseEvent("issues", []byte(`{"action":"opened","issue":{"number":7,"title":"hi"},"sender":{"login":"octocat"}}`))
	require.NoError(t, err)

	matched := repoagents.Match([]*repoagents.AgentDefinition{def}, ev)
	require.Len(t, matched, 1)
	assert.Equal(t, "greeter", matched[0].Slug)

	ev.Action = "closed"
	assert.Empty(t, repoagents.Match([]*repoagents.AgentDefinition{def}, ev))
}
