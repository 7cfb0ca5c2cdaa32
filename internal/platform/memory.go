package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/repoagents/internal/types"
)

// MemoryIssue is one issue or pull request held by Memory.
type MemoryIssue struct {
	Number    int
	Kind      types.ItemKind
	Title     string
	Body      string
	State     string
	Author    string
	Labels    []string
	Assignees []string
	Comments  []string
	UpdatedAt time.Time
}

// Memory is an in-process Platform for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	issues   map[int]*MemoryIssue
	roles    map[string]types.RepoRole
	teams    map[string][]string
	blocks   map[int][]int // blocker -> blocked
	runs     map[string][]time.Time
	nextIDNo int
}

// NewMemory returns an empty Memory platform.
func NewMemory() *Memory {
	return &Memory{
		issues:   make(map[int]*MemoryIssue),
		roles:    make(map[string]types.RepoRole),
		teams:    make(map[string][]string),
		blocks:   make(map[int][]int),
		runs:     make(map[string][]time.Time),
		nextIDNo: 1,
	}
}

// PutIssue adds or replaces an issue. State defaults to "open".
func (m *Memory) PutIssue(issue MemoryIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.State == "" {
		issue.State = "open"
	}
	if issue.Kind == "" {
		issue.Kind = types.ItemIssue
	}
	m.issues[issue.Number] = &issue
	if issue.Number >= m.nextIDNo {
		m.nextIDNo = issue.Number + 1
	}
}

// SetState changes an issue's state.
func (m *Memory) SetState(number int, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue, ok := m.issues[number]; ok {
		issue.State = state
	}
}

// SetRole sets a user's repository role.
func (m *Memory) SetRole(user string, role types.RepoRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[strings.ToLower(user)] = role
}

// AddTeamMember adds user to team.
func (m *Memory) AddTeamMember(team, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(team)
	m.teams[key] = append(m.teams[key], user)
}

// AddBlock records that blocker blocks blocked.
func (m *Memory) AddBlock(blocker, blocked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[blocker] = append(m.blocks[blocker], blocked)
}

// RecordRun records that agent started executing at t.
func (m *Memory) RecordRun(agent string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[agent] = append(m.runs[agent], t)
}

// Get returns a copy of the issue, if present.
func (m *Memory) Get(number int) (MemoryIssue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return MemoryIssue{}, false
	}
	cp := *issue
	cp.Labels = append([]string(nil), issue.Labels...)
	cp.Comments = append([]string(nil), issue.Comments...)
	return cp, true
}

func (m *Memory) summary(issue *MemoryIssue) types.IssueSummary {
	return types.IssueSummary{
		Number: issue.Number,
		State:  issue.State,
		Labels: append([]string(nil), issue.Labels...),
		Title:  issue.Title,
	}
}

func (m *Memory) Issue(_ context.Context, number int) (*types.IssueSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	s := m.summary(issue)
	return &s, nil
}

func (m *Memory) RepoRole(_ context.Context, user string) (types.RepoRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[strings.ToLower(user)], nil
}

func (m *Memory) TeamMember(_ context.Context, team, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.ContainsFold(m.teams[strings.ToLower(team)], user), nil
}

func (m *Memory) BlockedBy(_ context.Context, number int) ([]types.IssueSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.IssueSummary
	blockers := make([]int, 0, len(m.blocks))
	for blocker := range m.blocks {
		blockers = append(blockers, blocker)
	}
	sort.Ints(blockers)
	for _, blocker := range blockers {
		for _, blocked := range m.blocks[blocker] {
			if blocked != number {
				continue
			}
			if issue, ok := m.issues[blocker]; ok {
				out = append(out, m.summary(issue))
			}
		}
	}
	return out, nil
}

func (m *Memory) Blocking(_ context.Context, number int) ([]types.IssueSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.IssueSummary
	for _, blocked := range m.blocks[number] {
		if issue, ok := m.issues[blocked]; ok {
			out = append(out, m.summary(issue))
		}
	}
	return out, nil
}

func (m *Memory) LastRunStart(_ context.Context, agent string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, t := range m.runs[agent] {
		if t.After(last) {
			last = t
		}
	}
	return last, nil
}

func (m *Memory) OpenPullRequests(_ context.Context, author string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, issue := range m.issues {
		if issue.Kind == types.ItemPullRequest && issue.State == "open" && strings.EqualFold(issue.Author, author) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListItems(_ context.Context, q ItemQuery) ([]types.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := q.Kind
	if kind == "" {
		kind = types.ItemIssue
	}
	state := q.State
	if state == "" {
		state = "open"
	}

	var out []types.Item
	for _, issue := range m.issues {
		if issue.Kind != kind {
			continue
		}
		if state != "all" && issue.State != state {
			continue
		}
		if !q.Since.IsZero() && issue.UpdatedAt.Before(q.Since) {
			continue
		}
		if !hasAllLabels(issue.Labels, q.Labels) {
			continue
		}
		out = append(out, types.Item{
			Kind:   issue.Kind,
			Number: issue.Number,
			Title:  issue.Title,
			Body:   issue.Body,
			State:  issue.State,
			Author: issue.Author,
			Labels: append([]string(nil), issue.Labels...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		if !types.ContainsFold(have, w) {
			return false
		}
	}
	return true
}

func (m *Memory) CreateIssue(_ context.Context, req NewIssue) (*types.IssueSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue := &MemoryIssue{
		Number:    m.nextIDNo,
		Kind:      types.ItemIssue,
		Title:     req.Title,
		Body:      req.Body,
		State:     "open",
		Labels:    append([]string(nil), req.Labels...),
		Assignees: append([]string(nil), req.Assignees...),
		UpdatedAt: time.Now(),
	}
	m.issues[issue.Number] = issue
	m.nextIDNo++
	s := m.summary(issue)
	return &s, nil
}

func (m *Memory) AddComment(_ context.Context, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	issue.Comments = append(issue.Comments, body)
	return nil
}

func (m *Memory) AddLabels(_ context.Context, number int, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	for _, l := range labels {
		if !types.ContainsFold(issue.Labels, l) {
			issue.Labels = append(issue.Labels, l)
		}
	}
	return nil
}

func (m *Memory) RemoveLabel(_ context.Context, number int, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	kept := issue.Labels[:0]
	for _, l := range issue.Labels {
		if !strings.EqualFold(l, label) {
			kept = append(kept, l)
		}
	}
	issue.Labels = kept
	return nil
}

func (m *Memory) CloseIssue(_ context.Context, number int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	issue.State = "closed"
	return nil
}
