package agentdef

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/repoagents/internal/types"
)

// Result is the outcome of parsing one discovered file.
type Result struct {
	Path        string
	Definition  *types.AgentDefinition // nil if the file has errors
	Diagnostics types.Diagnostics
}

// Discovery is the outcome of scanning a definitions directory.
type Discovery struct {
	Results []Result
	// Diagnostics holds directory-level problems (unreadable directory,
	// duplicate names across files).
	Diagnostics types.Diagnostics
}

// Definitions returns the valid definitions in path order. When two files
// declare the same name only the first is returned.
func (d *Discovery) Definitions() []*types.AgentDefinition {
	seen := make(map[string]bool)
	var defs []*types.AgentDefinition
	for _, r := range d.Results {
		if r.Definition == nil || seen[r.Definition.Name] {
			continue
		}
		seen[r.Definition.Name] = true
		defs = append(defs, r.Definition)
	}
	return defs
}

// AllDiagnostics returns directory-level diagnostics followed by per-file
// diagnostics in path order.
func (d *Discovery) AllDiagnostics() types.Diagnostics {
	all := append(types.Diagnostics{}, d.Diagnostics...)
	for _, r := range d.Results {
		all = append(all, r.Diagnostics...)
	}
	return all
}

// Invalid returns the results that produced no definition.
func (d *Discovery) Invalid() []Result {
	var out []Result
	for _, r := range d.Results {
		if r.Definition == nil {
			out = append(out, r)
		}
	}
	return out
}

// Discover scans dir recursively for definition files and parses each one
// through all three phases.
func Discover(ctx context.Context, dir string) *Discovery {
	d := DiscoverFS(ctx, os.DirFS(dir), ".")
	for i := range d.Results {
		d.Results[i].Path = joinPath(dir, d.Results[i].Path)
		d.Results[i].Diagnostics = rebase(d.Results[i].Diagnostics, dir)
		if def := d.Results[i].Definition; def != nil {
			def.Path = d.Results[i].Path
		}
	}
	d.Diagnostics = rebase(d.Diagnostics, dir)
	for i := range d.Diagnostics {
		if d.Diagnostics[i].Path == "" {
			d.Diagnostics[i].Path = dir
		}
	}
	return d
}

// DiscoverFS is Discover over an fs.FS. An unreadable root yields a single
// discovery diagnostic and no results.
func DiscoverFS(ctx context.Context, fsys fs.FS, root string) *Discovery {
	d := &Discovery{}

	paths, err := FindDefinitionFiles(fsys, root)
	if err != nil {
		d.Diagnostics = append(d.Diagnostics, types.Diagnostic{
			Severity: types.SeverityError,
			Kind:     types.KindDiscovery,
			Message:  fmt.Sprintf("cannot read definitions directory: %v", err),
		})
		return d
	}

	d.Results = make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d.Results[i] = parseFile(fsys, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.Diagnostics = append(d.Diagnostics, types.Diagnostic{
			Severity: types.SeverityError,
			Kind:     types.KindDiscovery,
			Message:  fmt.Sprintf("discovery interrupted: %v", err),
		})
	}

	d.Diagnostics = append(d.Diagnostics, duplicateNames(d.Results)...)
	return d
}

func parseFile(fsys fs.FS, p string) Result {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return Result{Path: p, Diagnostics: types.Diagnostics{{
			Path:     p,
			Severity: types.SeverityError,
			Kind:     types.KindDiscovery,
			Message:  fmt.Sprintf("cannot read file: %v", err),
		}}}
	}
	def, diags := ParseAndValidate(p, data)
	return Result{Path: p, Definition: def, Diagnostics: diags}
}

// FindDefinitionFiles returns every *.md file under root, sorted. README
// files, files starting with "_" and hidden directories are skipped.
func FindDefinitionFiles(fsys fs.FS, root string) ([]string, error) {
	var paths []string
	err := fs.WalkDir(fsys, root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() {
			if p != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(path.Ext(name), ".md") {
			return nil
		}
		if strings.HasPrefix(name, "_") || strings.EqualFold(strings.TrimSuffix(name, path.Ext(name)), "README") {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func duplicateNames(results []Result) types.Diagnostics {
	var diags types.Diagnostics
	first := make(map[string]string)
	for _, r := range results {
		if r.Definition == nil {
			continue
		}
		name := r.Definition.Name
		if prev, ok := first[name]; ok {
			diags = append(diags, types.Diagnostic{
				Path:     r.Path,
				Field:    "name",
				Severity: types.SeverityError,
				Kind:     types.KindDiscovery,
				Message:  fmt.Sprintf("agent name %q already declared in %s", name, prev),
			})
			continue
		}
		first[name] = r.Path
	}
	return diags
}

func joinPath(dir, p string) string {
	if dir == "" || dir == "." {
		return p
	}
	return strings.TrimSuffix(dir, "/") + "/" + p
}

// rebase prefixes diagnostic paths, which are relative to dir, with dir.
func rebase(diags types.Diagnostics, dir string) types.Diagnostics {
	for i := range diags {
		if diags[i].Path != "" {
			diags[i].Path = joinPath(dir, diags[i].Path)
		}
	}
	return diags
}
