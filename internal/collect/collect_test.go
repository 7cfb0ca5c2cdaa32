package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func seed() *platform.Memory {
	m := platform.NewMemory()
	m.PutIssue(platform.MemoryIssue{Number: 1, Title: "old", UpdatedAt: now.AddDate(0, 0, -30)})
	m.PutIssue(platform.MemoryIssue{Number: 2, Title: "recent bug", Labels: []string{"bug"}, UpdatedAt: now.Add(-2 * time.Hour)})
	m.PutIssue(platform.MemoryIssue{Number: 3, Title: "recent closed", State: "closed", UpdatedAt: now.Add(-3 * time.Hour)})
	m.PutIssue(platform.MemoryIssue{Number: 4, Kind: types.ItemPullRequest, Title: "fix", Author: "alice", UpdatedAt: now.Add(-time.Hour)})
	return m
}

func TestCollect_NoContextSection(t *testing.T) {
	ev := &types.Event{Kind: types.TriggerIssues, Action: "opened"}
	b, err := Collect(context.Background(), Config{Event: ev, Now: now})
	require.NoError(t, err)
	assert.Same(t, ev, b.Event)
	assert.Zero(t, b.Count())
	assert.True(t, b.Since.IsZero())
}

func TestCollect_Window(t *testing.T) {
	b, err := Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Since: "1d", Include: []string{SourceIssues, SourcePullRequests}},
		Platform: seed(),
		Now:      now,
	})
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -1), b.Since)

	var issues []int
	for _, it := range b.Issues {
		issues = append(issues, it.Number)
	}
	assert.Equal(t, []int{3, 2}, issues, "closed issues count, old ones do not")
	require.Len(t, b.PullRequests, 1)
	assert.Equal(t, 4, b.PullRequests[0].Number)
	assert.Equal(t, 3, b.Count())
}

func TestCollect_LabelsAndLimit(t *testing.T) {
	b, err := Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Since: "7d", Labels: []string{"bug"}},
		Platform: seed(),
		Now:      now,
	})
	require.NoError(t, err)
	require.Len(t, b.Issues, 1)
	assert.Equal(t, 2, b.Issues[0].Number)

	b, err = Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Since: "60d", Limit: 1},
		Platform: seed(),
		Now:      now,
	})
	require.NoError(t, err)
	assert.Len(t, b.Issues, 1)
}

func TestCollect_BelowThreshold(t *testing.T) {
	b, err := Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Since: "1h", MinItems: 2},
		Platform: seed(),
		Now:      now,
	})
	require.True(t, errors.Is(err, ErrBelowThreshold), "got %v", err)
	require.NotNil(t, b, "bundle is returned with the threshold error")
	assert.Zero(t, b.Count())
}

func TestCollect_Errors(t *testing.T) {
	_, err := Collect(context.Background(), Config{Context: &types.ContextConfig{}})
	assert.Error(t, err, "context section needs a platform")

	_, err = Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Since: "zzzz"},
		Platform: seed(),
		Now:      now,
	})
	assert.Error(t, err)

	_, err = Collect(context.Background(), Config{
		Context:  &types.ContextConfig{Include: []string{"commits"}},
		Platform: seed(),
		Now:      now,
	})
	assert.Error(t, err)
}

func TestBundle_Markdown(t *testing.T) {
	b := &Bundle{
		Event: &types.Event{
			Kind:   types.TriggerIssues,
			Action: "opened",
			Actor:  "alice",
			Item:   &types.Item{Number: 7, Title: "Crash on save", Body: "Steps...", Labels: []string{"bug"}},
		},
		Since:  now.Add(-24 * time.Hour),
		Issues: []types.Item{{Number: 2, State: "open", Title: "recent bug", Author: "bob", Labels: []string{"bug"}}},
	}
	md := b.Markdown()
	assert.Contains(t, md, "- Event: `issues` (opened)")
	assert.Contains(t, md, "- Actor: @alice")
	assert.Contains(t, md, "- Item: #7 Crash on save")
	assert.Contains(t, md, "Steps...")
	assert.Contains(t, md, "- #2 [open] recent bug (@bob) `bug`")
	assert.Contains(t, md, "## Pull requests updated since")
	assert.Contains(t, md, "_None._")
}
