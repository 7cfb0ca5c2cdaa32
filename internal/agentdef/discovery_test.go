package agentdef

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/repoagents/internal/types"
)

func agentFile(name string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("---\nname: " + name + "\non:\n  workflow_dispatch: true\n---\nDo the thing.\n")}
}

func TestFindDefinitionFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"triage.md":            agentFile("Triage"),
		"README.md":            {Data: []byte("# docs")},
		"_draft.md":            agentFile("Draft"),
		"notes.txt":            {Data: []byte("not an agent")},
		"nested/deep/stale.md": agentFile("Stale"),
		".hidden/secret.md":    agentFile("Secret"),
		"_templates/base.md":   agentFile("Base"),
		"nested/Readme.md":     {Data: []byte("# nested docs")},
	}

	paths, err := FindDefinitionFiles(fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"nested/deep/stale.md", "triage.md"}, paths)
}

func TestDiscoverFS_IsolatesBadFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"a.md":      agentFile("Alpha"),
		"b.md":      {Data: []byte("no front matter here")},
		"c.md":      agentFile("Gamma"),
		"sub/d.md":  {Data: []byte("---\nname: Delta\n---\nno triggers\n")},
		"sub/e.md":  agentFile("Epsilon"),
		"sub/f.md":  agentFile("Zeta"),
		"sub/g.md":  agentFile("Eta"),
		"sub/h.md":  agentFile("Theta"),
		"sub/i.md":  agentFile("Iota"),
		"sub/j.md":  agentFile("Kappa"),
		"sub/kk.md": agentFile("Lambda"),
	}

	d := DiscoverFS(context.Background(), fsys, ".")
	require.Len(t, d.Results, 11)
	assert.Empty(t, d.Diagnostics)

	// Results keep path order regardless of parse scheduling.
	for i := 1; i < len(d.Results); i++ {
		assert.Less(t, d.Results[i-1].Path, d.Results[i].Path)
	}

	defs := d.Definitions()
	assert.Len(t, defs, 9)
	invalid := d.Invalid()
	require.Len(t, invalid, 2)
	assert.Equal(t, "b.md", invalid[0].Path)
	assert.Equal(t, types.KindStructural, invalid[0].Diagnostics[0].Kind)
	assert.Equal(t, "sub/d.md", invalid[1].Path)
	assert.Equal(t, types.KindSemantic, invalid[1].Diagnostics.Errors()[0].Kind)
}

func TestDiscoverFS_DuplicateNames(t *testing.T) {
	fsys := fstest.MapFS{
		"one.md": agentFile("Same"),
		"two.md": agentFile("Same"),
	}

	d := DiscoverFS(context.Background(), fsys, ".")
	require.Len(t, d.Diagnostics, 1)
	assert.Equal(t, "two.md", d.Diagnostics[0].Path)
	assert.Equal(t, "name", d.Diagnostics[0].Field)
	assert.Contains(t, d.Diagnostics[0].Message, "one.md")

	defs := d.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "one.md", defs[0].Path)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")

	d := Discover(context.Background(), dir)
	assert.Empty(t, d.Results)
	assert.Empty(t, d.Definitions())
	require.Len(t, d.Diagnostics, 1)
	assert.Equal(t, types.KindDiscovery, d.Diagnostics[0].Kind)
	assert.Equal(t, dir, d.Diagnostics[0].Path)
}

func TestDiscover_RealDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "team"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team", "triage.md"), agentFile("Triage").Data, 0o644))

	d := Discover(context.Background(), dir)
	require.Len(t, d.Results, 1)
	def := d.Results[0].Definition
	require.NotNil(t, def)
	assert.Equal(t, dir+"/team/triage.md", def.Path)
	assert.Equal(t, def.Path, d.Results[0].Path)
}

func TestDiscover_NestedDirectoryOfSameName(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Join("agents", "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("agents", "agents", "bad.md"), []byte("no front matter"), 0o644))

	d := Discover(context.Background(), "agents")
	require.Len(t, d.Results, 1)
	r := d.Results[0]
	assert.Equal(t, "agents/agents/bad.md", r.Path)
	require.NotEmpty(t, r.Diagnostics)
	for _, diag := range r.Diagnostics {
		assert.Equal(t, r.Path, diag.Path)
	}
}
