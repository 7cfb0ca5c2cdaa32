package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/repoagents/internal/types"
)

func issueOpened(number int) *types.Event {
	return &types.Event{
		Kind:   types.TriggerIssues,
		Action: "opened",
		Actor:  "octocat",
		Item:   &types.Item{Kind: types.ItemIssue, Number: number, State: "open"},
	}
}

func TestRunRoute(t *testing.T) {
	dir := writeAgents(t, map[string]string{
		"triage.md":  triageAgent,
		"nightly.md": nightlyAgent,
	})

	res, err := runRoute(context.Background(), nil, dir, issueOpened(4))
	if err != nil {
		t.Fatalf("runRoute: %v", err)
	}
	if len(res.Agents) != 1 || res.Agents[0].Slug != "issue-triage" {
		t.Fatalf("agents = %+v, want only issue-triage", res.Agents)
	}
	if len(res.Outputs) != 2 {
		t.Errorf("outputs = %+v, want one row per declared kind", res.Outputs)
	}

	res, err = runRoute(context.Background(), nil, dir, &types.Event{Kind: types.TriggerSchedule, Schedule: "0 3 * * *"})
	if err != nil {
		t.Fatalf("runRoute: %v", err)
	}
	if len(res.Agents) != 1 || res.Agents[0].Name != "Nightly Report" {
		t.Errorf("schedule agents = %+v", res.Agents)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("schedule outputs = %+v, want none", res.Outputs)
	}
}

func TestRunRoute_NoEvent(t *testing.T) {
	res, err := runRoute(context.Background(), nil, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("runRoute: %v", err)
	}
	if res.Agents == nil || res.Outputs == nil {
		t.Fatal("matrices must be empty lists, not null")
	}
}

func TestRouteResultPublish(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "github_output")
	res := &routeResult{
		Agents:  []types.MatrixEntry{{Name: "A", Slug: "a"}},
		Outputs: []types.OutputMatrixEntry{},
	}
	if err := res.publish(envMap(map[string]string{envStepOutput: outFile}), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read outputs: %v", err)
	}
	got := string(data)
	for _, want := range []string{"has-agents=true\n", "has-outputs=false\n", "outputs-matrix=[]\n", `"slug":"a"`} {
		if !strings.Contains(got, want) {
			t.Errorf("step outputs missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "\n"); n != 4 {
		t.Errorf("got %d lines, want 4", n)
	}
}

func TestWriteStepOutputs(t *testing.T) {
	t.Run("fallback writer", func(t *testing.T) {
		var b strings.Builder
		if err := writeStepOutputs(envMap(nil), &b, stepOutput{"should_run", "true"}); err != nil {
			t.Fatal(err)
		}
		if b.String() != "should_run=true\n" {
			t.Errorf("got %q", b.String())
		}
	})

	t.Run("appends to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out")
		if err := os.WriteFile(path, []byte("earlier=1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := writeStepOutputs(envMap(map[string]string{envStepOutput: path}), nil, stepOutput{"skip", "false"}); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "earlier=1\nskip=false\n" {
			t.Errorf("got %q", data)
		}
	})

	t.Run("rejects multiline values", func(t *testing.T) {
		var b strings.Builder
		err := writeStepOutputs(envMap(nil), &b, stepOutput{"k", "a\nb"})
		if err == nil {
			t.Fatal("expected error")
		}
		if b.Len() != 0 {
			t.Errorf("nothing should be written, got %q", b.String())
		}
	})
}
