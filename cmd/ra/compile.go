package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/compiler"
	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/ui"
)

// errStale is returned by --check when the workflow is out of date.
var errStale = errors.New("workflow is out of date")

var compileCmd = &cobra.Command{
	Use:     "compile",
	GroupID: "author",
	Short:   "Compile agent definitions into the pipeline workflow",
	Long: `Validate every definition under the agents directory as a set and render
the six-stage pipeline workflow.

Compilation is all-or-nothing: any invalid file, duplicate name or
colliding identifier fails the compile and nothing is written.

Examples:
  ra compile
  ra compile --check      # fail if the committed workflow is stale
  ra compile --watch      # recompile whenever a definition changes`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = config.GetString(config.KeyWorkflowPath)
		}
		check, _ := cmd.Flags().GetBool("check")
		watch, _ := cmd.Flags().GetBool("watch")
		opts := compileOptions()

		if watch {
			if err := watchCompile(getRootContext(), agentsDir, out, opts); err != nil {
				FatalError("%v", err)
			}
			return
		}

		changed, g, err := runCompile(getRootContext(), agentsDir, out, opts, check)
		if err != nil {
			reportCompileError(err, out)
		}
		if jsonOutput {
			outputJSON(map[string]any{"workflow": out, "changed": changed, "agents": len(g.Entries)})
			return
		}
		switch {
		case check:
			fmt.Printf("%s %s is up to date\n", ui.RenderPassIcon(), out)
		case changed:
			fmt.Printf("%s Compiled %d agent(s) into %s\n", ui.RenderPassIcon(), len(g.Entries), out)
		default:
			fmt.Printf("%s %s unchanged\n", ui.RenderSkipIcon(), out)
		}
	},
}

func init() {
	compileCmd.Flags().StringP("out", "o", "", "Workflow file to write (default: config workflow.path)")
	compileCmd.Flags().Bool("check", false, "Exit non-zero if the workflow on disk differs from a fresh compile")
	compileCmd.Flags().Bool("watch", false, "Recompile when definitions change")
	rootCmd.AddCommand(compileCmd)
}

func compileOptions() compiler.Options {
	return compiler.Options{
		WorkflowName:  config.GetString(config.KeyWorkflowName),
		AgentsDir:     agentsDir,
		RunsOn:        config.GetString(config.KeyWorkflowRunsOn),
		ToolVersion:   config.GetString(config.KeyToolVersion),
		CredentialEnv: config.GetStringSlice(config.KeyCredentialEnv),
		MaxParallel:   config.GetInt(config.KeyMaxParallel),
	}
}

// runCompile compiles dir and writes the workflow to out unless it is
// unchanged. With check set nothing is written and errStale is returned
// for a stale file.
func runCompile(ctx context.Context, dir, out string, opts compiler.Options, check bool) (bool, *compiler.PipelineGraph, error) {
	opts.AgentsDir = dir
	g, err := compiler.CompileDiscovery(ctx, agentdef.Discover(ctx, dir), opts)
	if err != nil {
		return false, nil, err
	}
	data, err := compiler.Render(g, opts)
	if err != nil {
		return false, nil, err
	}

	existing, err := os.ReadFile(out) //nolint:gosec // workflow path from flags/config
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, nil, fmt.Errorf("failed to read %s: %w", out, err)
	}
	if bytes.Equal(existing, data) {
		return false, g, nil
	}
	if check {
		return true, g, errStale
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return false, nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(out), err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil { //nolint:gosec // workflows are committed to the repository
		return false, nil, fmt.Errorf("failed to write %s: %w", out, err)
	}
	return true, g, nil
}

func reportCompileError(err error, out string) {
	var derr *types.DiagnosticsError
	switch {
	case errors.Is(err, errStale):
		FatalErrorWithHint(fmt.Sprintf("%s is out of date", out), "run 'ra compile' and commit the result")
	case errors.Is(err, compiler.ErrNoAgents):
		FatalErrorWithHint(err.Error(), "add a definition under "+agentsDir+" (see 'ra show --help')")
	case errors.As(err, &derr):
		if jsonOutput {
			outputJSONError(err, "invalid_definitions")
		}
		printDiagnostics(derr.Diagnostics)
		FatalError("compile failed with %d error(s)", len(derr.Diagnostics.Errors()))
	default:
		FatalError("%v", err)
	}
}

// watchCompile recompiles whenever a file under dir changes, until ctx
// is cancelled.
func watchCompile(ctx context.Context, dir, out string, opts compiler.Options) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	addDirs := func() error {
		return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(p)
			}
			return nil
		})
	}
	if err := addDirs(); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	recompile := serialized(func() {
		changed, g, err := runCompile(ctx, dir, out, opts, false)
		var derr *types.DiagnosticsError
		switch {
		case errors.As(err, &derr):
			printDiagnostics(derr.Diagnostics)
		case err != nil:
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFailIcon(), err)
		case changed:
			fmt.Printf("%s Compiled %d agent(s) into %s\n", ui.RenderPassIcon(), len(g.Entries), out)
		}
	})
	recompile()
	fmt.Fprintf(os.Stderr, "\nWatching %s for changes... (Press Ctrl+C to exit)\n", dir)

	var debounce *time.Timer
	const debounceDelay = 300 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, recompile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
		}
	}
}

// serialized wraps f so that concurrent calls run one at a time.
func serialized(f func()) func() {
	var mu sync.Mutex
	return func() {
		mu.Lock()
		defer mu.Unlock()
		f()
	}
}
