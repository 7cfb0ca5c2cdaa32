package main

import (
	"os"
	"path/filepath"
	"testing"
)

const triageAgent = `---
name: Issue Triage
on:
  issues:
    types: [opened]
permissions:
  issues: write
outputs:
  add-label:
    max: 2
  add-comment: true
audit:
  create_issues: true
---
Label the issue.
`

const nightlyAgent = `---
name: Nightly Report
on:
  schedule:
    - cron: "0 3 * * *"
  workflow_dispatch: true
permissions:
  issues: read
---
Summarise yesterday.
`

// writeAgents creates an agents directory holding the given files.
func writeAgents(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "agents")
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// envMap returns a getenv func backed by m.
func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}
