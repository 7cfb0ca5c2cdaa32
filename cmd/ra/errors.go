package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/steveyegge/repoagents/internal/types"
)

// Error reporting for ra. Every pipeline stage runs as a workflow step, so
// besides the plain "Error:"/"Warning:" lines on stderr each report is also
// emitted as a workflow command when running under GitHub Actions. The
// runner turns those into annotations on the run summary, attached to the
// definition file when one is known.

var (
	errOut io.Writer = os.Stderr
	exit             = os.Exit
)

// FatalError reports a failure that stops the stage and exits 1: an
// invalid definition set, a missing event, a stage input that cannot be
// read.
func FatalError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(errOut, "Error: %s\n", msg)
	annotate("error", annotation{}, msg)
	exit(1)
}

// FatalErrorWithHint is FatalError plus the next thing to try, e.g.
//
//	FatalErrorWithHint("no agent definitions to compile", "add a definition under .github/agents")
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(errOut, "Error: %s\n", message)
	fmt.Fprintf(errOut, "Hint: %s\n", hint)
	annotate("error", annotation{}, message+" ("+hint+")")
	exit(1)
}

// WarnError reports a problem that must not fail the step, such as an
// audit record that could not be written or a tracking issue that could
// not be opened.
func WarnError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(errOut, "Warning: %s\n", msg)
	annotate("warning", annotation{}, msg)
}

// annotateDiagnostic emits d as a workflow annotation on its file.
func annotateDiagnostic(d types.Diagnostic) {
	level := "warning"
	if d.Severity == types.SeverityError {
		level = "error"
	}
	annotate(level, annotation{File: d.Path, Title: d.Field}, d.Message)
}

type annotation struct {
	File  string
	Title string
}

// annotate writes a ::error or ::warning workflow command. It is a no-op
// outside GitHub Actions.
func annotate(level string, a annotation, msg string) {
	if os.Getenv("GITHUB_ACTIONS") != "true" {
		return
	}
	var props []string
	if a.File != "" {
		props = append(props, "file="+escapeProperty(a.File))
	}
	if a.Title != "" {
		props = append(props, "title="+escapeProperty(a.Title))
	}
	cmd := "::" + level
	if len(props) > 0 {
		cmd += " " + strings.Join(props, ",")
	}
	fmt.Fprintf(errOut, "%s::%s\n", cmd, escapeData(msg))
}

var (
	dataEscaper     = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")
	propertyEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C")
)

func escapeData(s string) string     { return dataEscaper.Replace(s) }
func escapeProperty(s string) string { return propertyEscaper.Replace(s) }
