// Package github provides a GitHub REST API client implementing
// platform.Platform.
//
// Reads cover issue state and labels, collaborator permission, team
// membership, issue dependencies, workflow-run history and pull request
// counts. Writes cover the handful of issue mutations output handlers and
// the audit stage perform.
package github

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/steveyegge/repoagents/internal/platform"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxRetryAfter caps how long a Retry-After header may stall a request.
	MaxRetryAfter = time.Minute

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed Link headers.
	MaxPages = 100

	// DefaultRequestsPerSecond throttles the client below GitHub's
	// secondary rate limits.
	DefaultRequestsPerSecond = 10

	// DefaultRunLookback is how many recent workflow runs LastRunStart scans.
	DefaultRunLookback = 20
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // GitHub token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client

	// Workflow is the compiled workflow file name (e.g. "repo-agents.yml")
	// whose run history LastRunStart inspects.
	Workflow string

	// RunID is the current workflow run, excluded from LastRunStart.
	RunID int64

	// RunLookback is how many recent runs LastRunStart scans.
	RunLookback int

	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*response]
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ platform.Platform = (*Client)(nil)

// response is one successful HTTP exchange.
type response struct {
	body   []byte
	header http.Header
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s %s: %s (status %d)", e.Method, e.URL, strings.TrimSpace(e.Body), e.Status)
}

// Is makes 404 responses match platform.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == platform.ErrNotFound && e.Status == http.StatusNotFound
}

// retryable reports whether the status is worth retrying.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// isClientError reports whether err is a 4xx the breaker should not count.
func isClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}

// Issue represents an issue or pull request from the Issues API.
type Issue struct {
	ID          int        `json:"id"`     // Global unique ID
	Number      int        `json:"number"` // Repository-scoped issue number
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignees   []User     `json:"assignees,omitempty"`
	User        *User      `json:"user,omitempty"` // Author
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef indicates an issue is actually a pull request.
// The Issues API returns PRs alongside issues; this field distinguishes them.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type,omitempty"` // "User" or "Bot"
}

// Label represents a GitHub label.
type Label struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Comment represents an issue comment.
type Comment struct {
	ID      int    `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// collaboratorPermission is the response of the collaborator permission endpoint.
type collaboratorPermission struct {
	Permission string `json:"permission"` // admin, write, read, none
	RoleName   string `json:"role_name"`  // admin, maintain, write, triage, read
}

// teamMembership is the response of the team membership endpoint.
type teamMembership struct {
	State string `json:"state"` // "active" or "pending"
	Role  string `json:"role"`
}

// searchResult is the envelope of the search API.
type searchResult struct {
	TotalCount int `json:"total_count"`
}

// WorkflowRun is one run of the compiled workflow.
type WorkflowRun struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	Event        string     `json:"event"`
	RunStartedAt *time.Time `json:"run_started_at"`
}

type workflowRuns struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// Job is one job of a workflow run; matrix jobs carry the expanded name.
type Job struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Conclusion string     `json:"conclusion"`
	StartedAt  *time.Time `json:"started_at"`
	Steps      []JobStep  `json:"steps"`
}

// JobStep is one step of a job.
type JobStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`     // queued, in_progress, completed
	Conclusion  string     `json:"conclusion"` // success, failure, skipped, ...
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type jobList struct {
	TotalCount int   `json:"total_count"`
	Jobs       []Job `json:"jobs"`
}

// LabelNames extracts label name strings from a slice of Label structs.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}

// ParseRepository splits "owner/name".
func ParseRepository(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q (want owner/name)", full)
	}
	return owner, repo, nil
}
