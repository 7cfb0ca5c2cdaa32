package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/repoagents/internal/compiler"
	"github.com/steveyegge/repoagents/internal/types"
)

func TestRunCompile(t *testing.T) {
	ctx := context.Background()
	dir := writeAgents(t, map[string]string{"triage.md": triageAgent, "nightly.md": nightlyAgent})
	out := filepath.Join(t.TempDir(), ".github", "workflows", "repo-agents.yml")
	opts := compiler.Options{WorkflowName: "Repo Agents"}

	changed, g, err := runCompile(ctx, dir, out, opts, false)
	if err != nil {
		t.Fatalf("runCompile: %v", err)
	}
	if !changed || len(g.Entries) != 2 {
		t.Fatalf("changed=%v entries=%d, want a fresh write of 2 agents", changed, len(g.Entries))
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# "+compiler.GeneratedHeader) {
		t.Errorf("workflow does not start with the generated header")
	}

	changed, _, err = runCompile(ctx, dir, out, opts, false)
	if err != nil || changed {
		t.Errorf("recompile: changed=%v err=%v, want unchanged", changed, err)
	}
	if _, _, err := runCompile(ctx, dir, out, opts, true); err != nil {
		t.Errorf("check on a fresh workflow: %v", err)
	}

	if err := os.WriteFile(out, append(data, []byte("# edited\n")...), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCompile(ctx, dir, out, opts, true); !errors.Is(err, errStale) {
		t.Errorf("check on an edited workflow: err=%v, want errStale", err)
	}
	edited, _ := os.ReadFile(out)
	if !strings.HasSuffix(string(edited), "# edited\n") {
		t.Error("--check must not rewrite the workflow")
	}
}

func TestRunCompile_InvalidWritesNothing(t *testing.T) {
	dir := writeAgents(t, map[string]string{
		"triage.md": triageAgent,
		"broken.md": "---\nname: Broken\non:\n  issues:\n    types: [exploded]\n---\nbody\n",
	})
	out := filepath.Join(t.TempDir(), "wf.yml")

	_, _, err := runCompile(context.Background(), dir, out, compiler.Options{}, false)
	var derr *types.DiagnosticsError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want diagnostics", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("workflow must not be written when any definition is invalid")
	}
}

func TestValidateDir(t *testing.T) {
	dir := writeAgents(t, map[string]string{
		"a.md": triageAgent,
		"b.md": strings.Replace(triageAgent, "name: Issue Triage", "name: issue triage!", 1),
		"c.md": "no front matter\n",
	})

	rep := validateDir(context.Background(), dir)
	if rep.Valid != 2 || rep.Invalid != 1 {
		t.Errorf("valid=%d invalid=%d, want 2 and 1", rep.Valid, rep.Invalid)
	}
	var collision bool
	for _, d := range rep.Diagnostics.Errors() {
		if d.Kind == types.KindCompile && strings.Contains(d.Message, "issue-triage") {
			collision = true
		}
	}
	if !collision {
		t.Errorf("expected a slug collision diagnostic, got %v", rep.Diagnostics)
	}
}

func TestValidateFiles(t *testing.T) {
	dir := writeAgents(t, map[string]string{"ok.md": nightlyAgent})
	rep := validateFiles([]string{filepath.Join(dir, "ok.md"), filepath.Join(dir, "missing.md")})
	if rep.Valid != 1 || rep.Invalid != 1 {
		t.Errorf("valid=%d invalid=%d", rep.Valid, rep.Invalid)
	}
	if !rep.Diagnostics.HasErrors() {
		t.Error("a missing file should be an error")
	}
}

func TestFindAgent(t *testing.T) {
	defs := []*types.AgentDefinition{{Name: "Issue Triage"}, {Name: "issue triage"}, {Name: "Nightly Report"}}

	tests := []struct {
		query string
		want  string
	}{
		{"issue triage", "issue triage"},
		{"Issue Triage", "Issue Triage"},
		{"NIGHTLY REPORT", "Nightly Report"},
		{"nightly-report", "Nightly Report"},
	}
	for _, tt := range tests {
		got, err := findAgent(defs, tt.query)
		if err != nil {
			t.Errorf("findAgent(%q): %v", tt.query, err)
			continue
		}
		if got.Name != tt.want {
			t.Errorf("findAgent(%q) = %q, want %q", tt.query, got.Name, tt.want)
		}
	}
	if _, err := findAgent(defs, "unknown"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestNewAgentRow(t *testing.T) {
	row := newAgentRow(parseAgent(t, nightlyAgent))
	if row.Slug != "nightly-report" {
		t.Errorf("slug = %q", row.Slug)
	}
	want := []string{"schedule [0 3 * * *]", "workflow_dispatch"}
	if strings.Join(row.Triggers, "|") != strings.Join(want, "|") {
		t.Errorf("triggers = %v, want %v", row.Triggers, want)
	}
	if len(row.Outputs) != 0 {
		t.Errorf("outputs = %v, want none", row.Outputs)
	}
}

func TestSerialized(t *testing.T) {
	var running, peak, calls atomic.Int32
	f := serialized(func() {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		calls.Add(1)
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	wg.Wait()

	if calls.Load() != 8 {
		t.Errorf("calls = %d, want 8", calls.Load())
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}
