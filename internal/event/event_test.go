package event

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/repoagents/internal/types"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestParse_Issues(t *testing.T) {
	data := []byte(`{
		"action": "labeled",
		"sender": {"login": "alice"},
		"repository": {"full_name": "acme/widgets"},
		"issue": {
			"number": 42, "title": "Crash", "body": "boom", "state": "open",
			"html_url": "https://github.com/acme/widgets/issues/42",
			"user": {"login": "carol"},
			"labels": [{"name": "bug"}, {"name": "agent:triage"}]
		}
	}`)

	ev, err := Parse("issues", data, Meta{Actor: "runner", RunID: "7", Now: now})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerIssues, ev.Kind)
	assert.Equal(t, "labeled", ev.Action)
	assert.Equal(t, "alice", ev.Actor, "sender wins over runner actor")
	assert.Equal(t, "acme/widgets", ev.Repository)
	assert.Equal(t, "7", ev.RunID)
	assert.Equal(t, now, ev.ReceivedAt)
	require.NotNil(t, ev.Item)
	assert.Equal(t, types.ItemIssue, ev.Item.Kind)
	assert.Equal(t, 42, ev.Item.Number)
	assert.Equal(t, "carol", ev.Item.Author)
	assert.Equal(t, []string{"bug", "agent:triage"}, ev.Item.Labels)
}

func TestParse_Families(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, ev *types.Event)
	}{
		{
			name: "pull_request",
			data: `{"action":"opened","pull_request":{"number":3,"state":"open","labels":[]}}`,
			check: func(t *testing.T, ev *types.Event) {
				assert.Equal(t, "opened", ev.Action)
				require.NotNil(t, ev.Item)
				assert.Equal(t, types.ItemPullRequest, ev.Item.Kind)
			},
		},
		{
			name: "discussion",
			data: `{"action":"created","discussion":{"number":9}}`,
			check: func(t *testing.T, ev *types.Event) {
				require.NotNil(t, ev.Item)
				assert.Equal(t, types.ItemDiscussion, ev.Item.Kind)
			},
		},
		{
			name: "schedule",
			data: `{"schedule":"0 9 * * 1"}`,
			check: func(t *testing.T, ev *types.Event) {
				assert.Equal(t, "0 9 * * 1", ev.Schedule)
				assert.Empty(t, ev.Actor)
				assert.Nil(t, ev.Item)
			},
		},
		{
			name: "repository_dispatch",
			data: `{"action":"deploy-finished","client_payload":{"x":1}}`,
			check: func(t *testing.T, ev *types.Event) {
				assert.Equal(t, "deploy-finished", ev.DispatchType)
				assert.Empty(t, ev.Action)
			},
		},
		{
			name: "workflow_dispatch",
			data: `{"inputs":{"agent":" Issue Triage "}}`,
			check: func(t *testing.T, ev *types.Event) {
				assert.Equal(t, "Issue Triage", ev.DispatchAgent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse(tt.name, []byte(tt.data), Meta{Actor: "runner", Now: now})
			require.NoError(t, err)
			assert.Equal(t, types.TriggerKind(tt.name), ev.Kind)
			tt.check(t, ev)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("push", []byte(`{}`), Meta{})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Parse("issues", []byte(`{not json`), Meta{})
	assert.Error(t, err)

	ev, err := Parse("workflow_dispatch", nil, Meta{Actor: "alice"})
	require.NoError(t, err, "empty payload is allowed")
	assert.Equal(t, "alice", ev.Actor)
	assert.False(t, ev.ReceivedAt.IsZero())
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"action":"closed","issue":{"number":5,"state":"closed"}}`), 0o600))

	env := map[string]string{
		EnvEventName:  "issues",
		EnvEventPath:  path,
		EnvActor:      "bob",
		EnvRepository: "acme/widgets",
		EnvRunID:      "123",
	}
	ev, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "closed", ev.Action)
	assert.Equal(t, "bob", ev.Actor)
	assert.Equal(t, "acme/widgets", ev.Repository)
	assert.Equal(t, 5, ev.Item.Number)

	_, err = FromEnv(func(string) string { return "" })
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ev, err := Parse("issues", []byte(`{"action":"opened","issue":{"number":1,"labels":[{"name":"x"}]}}`), Meta{Actor: "alice", Now: now})
	require.NoError(t, err)
	snap, err := ev.Snapshot()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, snap, 0o600))

	back, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, ev, back)

	_, err = FromSnapshot([]byte(`{"kind":"push"}`))
	assert.ErrorIs(t, err, ErrUnsupported)
}
