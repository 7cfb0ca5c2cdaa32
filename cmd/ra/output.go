package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// envStepOutput names the file step outputs are appended to.
const envStepOutput = "GITHUB_OUTPUT"

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputJSONError writes {"error": ..., "code": ...} to stderr and exits 1.
func outputJSONError(err error, code string) {
	errObj := map[string]string{"error": err.Error()}
	if code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
	os.Exit(1)
}

// stepOutput is one key=value pair published to later workflow steps.
type stepOutput struct {
	Key   string
	Value string
}

// writeStepOutputs appends outputs to the file named by $GITHUB_OUTPUT.
// Outside a workflow they are written to fallback instead.
func writeStepOutputs(getenv func(string) string, fallback io.Writer, outs ...stepOutput) error {
	var b strings.Builder
	for _, o := range outs {
		if strings.ContainsAny(o.Value, "\r\n") {
			return fmt.Errorf("step output %s must be a single line", o.Key)
		}
		fmt.Fprintf(&b, "%s=%s\n", o.Key, o.Value)
	}

	path := getenv(envStepOutput)
	if path == "" {
		_, err := io.WriteString(fallback, b.String())
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path provided by the runner
	if err != nil {
		return fmt.Errorf("failed to open step output file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write step outputs: %w", err)
	}
	return nil
}

// compactJSON marshals v on one line for use as a step output.
func compactJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeJSONFile writes v as indented JSON, creating parent directories.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec // artifacts are uploaded, not secret
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// readJSONFile decodes path into v. A missing file reports ok=false with
// no error.
func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from flags
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
