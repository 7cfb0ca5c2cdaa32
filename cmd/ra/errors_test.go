package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/steveyegge/repoagents/internal/types"
)

// captureErrors redirects error output and exits for the test.
func captureErrors(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	var buf bytes.Buffer
	code := -1
	oldOut, oldExit := errOut, exit
	errOut = &buf
	exit = func(c int) { code = c }
	t.Cleanup(func() { errOut, exit = oldOut, oldExit })
	return &buf, &code
}

func TestFatalErrorWithHint_Annotates(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	buf, code := captureErrors(t)

	FatalErrorWithHint("no agent definitions to compile", "add one")

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	want := "Error: no agent definitions to compile\nHint: add one\n::error::no agent definitions to compile (add one)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestWarnError_OutsideActions(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "")
	buf, code := captureErrors(t)

	WarnError("tracking issues disabled: %s", "no token")

	if *code != -1 {
		t.Errorf("WarnError must not exit, got code %d", *code)
	}
	if buf.String() != "Warning: tracking issues disabled: no token\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestAnnotateDiagnostic(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	buf, _ := captureErrors(t)

	annotateDiagnostic(types.Diagnostic{
		Path:     ".github/agents/a,b.md",
		Field:    "outputs",
		Severity: types.SeverityError,
		Message:  "100% wrong\nsecond line",
	})
	annotateDiagnostic(types.Diagnostic{Path: "x.md", Severity: types.SeverityWarning, Message: "empty"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "::error file=.github/agents/a%2Cb.md,title=outputs::100%25 wrong%0Asecond line" {
		t.Errorf("error annotation = %q", lines[0])
	}
	if lines[1] != "::warning file=x.md::empty" {
		t.Errorf("warning annotation = %q", lines[1])
	}
}
