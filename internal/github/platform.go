package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

// ── Mapping ─────────────────────────────────────────────────────────────────

// ToSummary converts an API issue into the platform's issue summary.
func ToSummary(issue *Issue) types.IssueSummary {
	return types.IssueSummary{
		Number: issue.Number,
		State:  issue.State,
		Labels: LabelNames(issue.Labels),
		Title:  issue.Title,
	}
}

// ToItem converts an API issue into an event item.
func ToItem(issue *Issue) types.Item {
	item := types.Item{
		Kind:   types.ItemIssue,
		Number: issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
		State:  issue.State,
		Labels: LabelNames(issue.Labels),
		URL:    issue.HTMLURL,
	}
	if issue.PullRequest != nil {
		item.Kind = types.ItemPullRequest
	}
	if issue.User != nil {
		item.Author = issue.User.Login
	}
	return item
}

// ParseRole maps the collaborator permission response onto a RepoRole.
// role_name carries the fine-grained role (triage, maintain); permission
// is the coarse fallback.
func ParseRole(roleName, permission string) types.RepoRole {
	for _, s := range []string{roleName, permission} {
		if s == "" {
			continue
		}
		if role, err := types.ParseRepoRole(s); err == nil {
			return role
		}
	}
	return types.RoleNone
}

// searchAuthor formats a login for the search API's author qualifier.
// Apps are addressed as "app/<slug>".
func searchAuthor(login string) string {
	if slug, ok := strings.CutSuffix(login, "[bot]"); ok {
		return "app/" + slug
	}
	return login
}

// ── platform.Reader ─────────────────────────────────────────────────────────

func (c *Client) Issue(ctx context.Context, number int) (*types.IssueSummary, error) {
	issue, err := c.FetchIssueByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	s := ToSummary(issue)
	return &s, nil
}

func (c *Client) RepoRole(ctx context.Context, user string) (types.RepoRole, error) {
	var perm collaboratorPermission
	path := c.repoPath() + "/collaborators/" + url.PathEscape(user) + "/permission"
	if _, err := c.getJSON(ctx, path, nil, &perm); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return types.RoleNone, nil
		}
		return types.RoleNone, fmt.Errorf("failed to fetch permission of %s: %w", user, err)
	}
	return ParseRole(perm.RoleName, perm.Permission), nil
}

func (c *Client) TeamMember(ctx context.Context, team, user string) (bool, error) {
	org, slug, ok := strings.Cut(team, "/")
	if !ok {
		org, slug = c.Owner, team
	}
	var m teamMembership
	path := "/orgs/" + url.PathEscape(org) + "/teams/" + url.PathEscape(slug) + "/memberships/" + url.PathEscape(user)
	if _, err := c.getJSON(ctx, path, nil, &m); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch membership of %s in %s: %w", user, team, err)
	}
	return m.State == "active", nil
}

func (c *Client) BlockedBy(ctx context.Context, number int) ([]types.IssueSummary, error) {
	return c.dependencies(ctx, number, "blocked_by")
}

func (c *Client) Blocking(ctx context.Context, number int) ([]types.IssueSummary, error) {
	return c.dependencies(ctx, number, "blocking")
}

func (c *Client) dependencies(ctx context.Context, number int, relation string) ([]types.IssueSummary, error) {
	path := c.repoPath() + "/issues/" + strconv.Itoa(number) + "/dependencies/" + relation
	issues, err := c.fetchIssuePages(ctx, path, nil, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s of #%d: %w", relation, number, err)
	}
	out := make([]types.IssueSummary, len(issues))
	for i := range issues {
		out[i] = ToSummary(&issues[i])
	}
	return out, nil
}

// LastRunStart scans recent runs of the compiled workflow for the agent's
// execution job and returns when its execution step last started. Runs
// where the step was skipped (the gate said no) do not count.
func (c *Client) LastRunStart(ctx context.Context, agent string) (time.Time, error) {
	if c.Workflow == "" {
		c.logger.Debug("no workflow configured; rate limit has no run history")
		return time.Time{}, nil
	}
	lookback := c.RunLookback
	if lookback <= 0 {
		lookback = DefaultRunLookback
	}

	var runs workflowRuns
	path := c.repoPath() + "/actions/workflows/" + url.PathEscape(c.Workflow) + "/runs"
	if _, err := c.getJSON(ctx, path, map[string]string{"per_page": strconv.Itoa(lookback)}, &runs); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to list workflow runs: %w", err)
	}

	jobName := types.ExecutionJobPrefix + agent
	var last time.Time
	for _, run := range runs.WorkflowRuns {
		if run.ID == c.RunID {
			continue
		}
		var jobs jobList
		jobsPath := c.repoPath() + "/actions/runs/" + strconv.FormatInt(run.ID, 10) + "/jobs"
		if _, err := c.getJSON(ctx, jobsPath, map[string]string{"per_page": strconv.Itoa(MaxPageSize)}, &jobs); err != nil {
			return time.Time{}, fmt.Errorf("failed to list jobs of run %d: %w", run.ID, err)
		}
		for _, job := range jobs.Jobs {
			if job.Name != jobName {
				continue
			}
			if started, ok := executionStart(job); ok && started.After(last) {
				last = started
			}
		}
	}
	return last, nil
}

func executionStart(job Job) (time.Time, bool) {
	for _, step := range job.Steps {
		if step.Name != types.ExecutionStepName {
			continue
		}
		if step.Conclusion == "skipped" || step.Status == "queued" || step.StartedAt == nil {
			return time.Time{}, false
		}
		return *step.StartedAt, true
	}
	return time.Time{}, false
}

func (c *Client) OpenPullRequests(ctx context.Context, author string) (int, error) {
	q := fmt.Sprintf("repo:%s/%s is:pr is:open author:%s", c.Owner, c.Repo, searchAuthor(author))
	var res searchResult
	if _, err := c.getJSON(ctx, "/search/issues", map[string]string{"q": q, "per_page": "1"}, &res); err != nil {
		return 0, fmt.Errorf("failed to count open pull requests: %w", err)
	}
	return res.TotalCount, nil
}

func (c *Client) ListItems(ctx context.Context, q platform.ItemQuery) ([]types.Item, error) {
	state := q.State
	if state == "" {
		state = "open"
	}
	params := map[string]string{
		"state":     state,
		"sort":      "updated",
		"direction": "desc",
	}
	if !q.Since.IsZero() {
		params["since"] = q.Since.UTC().Format(time.RFC3339)
	}
	if len(q.Labels) > 0 {
		params["labels"] = strings.Join(q.Labels, ",")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = MaxPageSize
	}
	wantPR := q.Kind == types.ItemPullRequest

	issues, err := c.fetchIssuePages(ctx, c.repoPath()+"/issues", params, limit,
		func(i Issue) bool { return (i.PullRequest != nil) == wantPR })
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	out := make([]types.Item, len(issues))
	for i := range issues {
		out[i] = ToItem(&issues[i])
	}
	return out, nil
}

// ── platform.Writer ─────────────────────────────────────────────────────────

func (c *Client) CreateIssue(ctx context.Context, req platform.NewIssue) (*types.IssueSummary, error) {
	reqBody := map[string]any{
		"title": req.Title,
		"body":  req.Body,
	}
	if len(req.Labels) > 0 {
		reqBody["labels"] = req.Labels
	}
	if len(req.Assignees) > 0 {
		reqBody["assignees"] = req.Assignees
	}

	respBody, _, err := c.doRequest(ctx, http.MethodPost, c.buildURL(c.repoPath()+"/issues", nil), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	s := ToSummary(&issue)
	return &s, nil
}

func (c *Client) AddComment(ctx context.Context, number int, body string) error {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	if _, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]string{"body": body}); err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return nil
}

func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	if _, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string][]string{"labels": labels}); err != nil {
		return fmt.Errorf("failed to label #%d: %w", number, err)
	}
	return nil
}

// RemoveLabel removes a label; a label that is already absent is not an error.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number)+"/labels/"+url.PathEscape(label), nil)
	if _, _, err := c.doRequest(ctx, http.MethodDelete, urlStr, nil); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to remove label %q from #%d: %w", label, number, err)
	}
	return nil
}

// CloseIssue closes an issue. reason is GitHub's state_reason
// ("completed" or "not_planned"); anything else is omitted.
func (c *Client) CloseIssue(ctx context.Context, number int, reason string) error {
	updates := map[string]any{"state": "closed"}
	if reason == "completed" || reason == "not_planned" {
		updates["state_reason"] = reason
	}
	_, err := c.UpdateIssue(ctx, number, updates)
	return err
}
