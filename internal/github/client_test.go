package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/repoagents/internal/platform"
)

// newTestClient returns a client pointed at url with fast retries and no throttle.
func newTestClient(url string) *Client {
	c := NewClient("test-token", "owner", "repo").WithBaseURL(url).WithRateLimit(0)
	c.retryDelay = time.Millisecond
	return c
}

// TestNewClient verifies the constructor creates a properly configured client.
func TestNewClient(t *testing.T) {
	client := NewClient("test-token", "owner", "repo")

	if client.Token != "test-token" {
		t.Errorf("Token = %q, want %q", client.Token, "test-token")
	}
	if client.Owner != "owner" || client.Repo != "repo" {
		t.Errorf("Owner/Repo = %q/%q, want owner/repo", client.Owner, client.Repo)
	}
	if client.BaseURL != DefaultAPIEndpoint {
		t.Errorf("BaseURL = %q, want %q", client.BaseURL, DefaultAPIEndpoint)
	}
	if client.HTTPClient == nil {
		t.Error("HTTPClient is nil, want non-nil default client")
	}
	if client.RunLookback != DefaultRunLookback {
		t.Errorf("RunLookback = %d, want %d", client.RunLookback, DefaultRunLookback)
	}
}

// TestClientBuilders verifies builders copy rather than mutate.
func TestClientBuilders(t *testing.T) {
	base := NewClient("token", "owner", "repo")
	custom := &http.Client{Timeout: 60 * time.Second}

	client := base.WithHTTPClient(custom).WithBaseURL("https://github.example.com/api/v3").WithWorkflow("agents.yml", 42)

	if client.HTTPClient != custom {
		t.Error("HTTPClient not set to custom client")
	}
	if client.BaseURL != "https://github.example.com/api/v3" {
		t.Errorf("BaseURL = %q, want custom URL", client.BaseURL)
	}
	if client.Workflow != "agents.yml" || client.RunID != 42 {
		t.Errorf("Workflow/RunID = %q/%d", client.Workflow, client.RunID)
	}
	if base.BaseURL != DefaultAPIEndpoint || base.Workflow != "" {
		t.Error("builder mutated the original client")
	}
}

// TestBuildURL verifies URL construction for API endpoints.
func TestBuildURL(t *testing.T) {
	client := NewClient("token", "owner", "repo")

	tests := []struct {
		name    string
		path    string
		params  map[string]string
		wantURL string
	}{
		{
			name:    "issues endpoint",
			path:    client.repoPath() + "/issues",
			wantURL: "https://api.github.com/repos/owner/repo/issues",
		},
		{
			name:    "with query params",
			path:    client.repoPath() + "/issues",
			params:  map[string]string{"state": "open", "per_page": "100"},
			wantURL: "https://api.github.com/repos/owner/repo/issues",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.buildURL(tt.path, tt.params)
			if !strings.HasPrefix(got, tt.wantURL) {
				t.Errorf("buildURL(%q) = %q, want prefix %q", tt.path, got, tt.wantURL)
			}
			for k, v := range tt.params {
				if !strings.Contains(got, k+"="+v) {
					t.Errorf("buildURL missing param %s=%s in %q", k, v, got)
				}
			}
		})
	}
}

// TestFetchIssues_FiltersPullRequests verifies PRs are filtered out.
func TestFetchIssues_FiltersPullRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("Authorization header = %q, want Bearer prefix", r.Header.Get("Authorization"))
		}
		issues := []Issue{
			{ID: 1, Number: 1, Title: "Issue", State: "open"},
			{ID: 2, Number: 2, Title: "PR", State: "open", PullRequest: &PullRef{URL: "https://api.github.com/repos/o/r/pulls/2"}},
			{ID: 3, Number: 3, Title: "Another issue", State: "open"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(issues)
	}))
	defer server.Close()

	issues, err := newTestClient(server.URL).FetchIssues(context.Background(), "open")
	if err != nil {
		t.Fatalf("FetchIssues() error = %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("FetchIssues() returned %d issues, want 2 (PR filtered)", len(issues))
	}
}

// TestFetchIssues_Pagination verifies client handles paginated responses via Link header.
func TestFetchIssues_Pagination(t *testing.T) {
	var page atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := page.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Header().Set("Link", `<`+r.URL.String()+`?page=2>; rel="next"`)
			_ = json.NewEncoder(w).Encode([]Issue{{ID: 1, Number: 1, Title: "Issue 1"}})
			return
		}
		_ = json.NewEncoder(w).Encode([]Issue{{ID: 2, Number: 2, Title: "Issue 2"}})
	}))
	defer server.Close()

	issues, err := newTestClient(server.URL).FetchIssues(context.Background(), "all")
	if err != nil {
		t.Fatalf("FetchIssues() error = %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("FetchIssues() returned %d issues, want 2 (from 2 pages)", len(issues))
	}
}

// TestFetchIssues_PaginationLimit verifies that paging stops after MaxPages.
func TestFetchIssues_PaginationLimit(t *testing.T) {
	var requestCount atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requestCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", `<http://example.com?page=999>; rel="next"`)
		_ = json.NewEncoder(w).Encode([]Issue{{ID: int(n), Number: int(n), Title: "Issue"}})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchIssues(context.Background(), "all")
	if err == nil {
		t.Fatal("FetchIssues() error = nil, want pagination limit error")
	}
	if !strings.Contains(err.Error(), "pagination limit exceeded") {
		t.Errorf("error = %v, want to contain 'pagination limit exceeded'", err)
	}
	if requestCount.Load() > MaxPages+1 {
		t.Errorf("requestCount = %d, want <= %d (MaxPages+1)", requestCount.Load(), MaxPages+1)
	}
}

// TestDoRequest_ServerErrorRetries verifies 5xx responses are retried and
// then reported.
func TestDoRequest_ServerErrorRetries(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message": "Server error"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchIssues(context.Background(), "open")
	if err == nil {
		t.Fatal("FetchIssues() error = nil, want error for 500")
	}
	if !strings.Contains(err.Error(), "max retries") {
		t.Errorf("error = %v, want max retries", err)
	}
	if got := attempts.Load(); got != MaxRetries+1 {
		t.Errorf("attempts = %d, want %d", got, MaxRetries+1)
	}
}

// TestDoRequest_ClientErrorNotRetried verifies 4xx fails immediately.
func TestDoRequest_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchIssueByNumber(context.Background(), 7)
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("error = %v, want platform.ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("error = %v, want *APIError with status 404", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

// TestDoRequest_RateLimitRetry verifies rate limit handling with retry.
func TestDoRequest_RateLimitRetry(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Issue{{ID: 1, Number: 1, Title: "After retry"}})
	}))
	defer server.Close()

	issues, err := newTestClient(server.URL).FetchIssues(context.Background(), "open")
	if err != nil {
		t.Fatalf("FetchIssues() error = %v, want success after retries", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts.Load())
	}
	if len(issues) != 1 || issues[0].Title != "After retry" {
		t.Errorf("unexpected issues after retry: %v", issues)
	}
}

// TestDoRequest_CircuitOpens verifies repeated failures trip the breaker.
func TestDoRequest_CircuitOpens(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := client.FetchIssueByNumber(ctx, 1); err == nil {
			t.Fatal("expected error from 502")
		}
	}
	before := attempts.Load()

	_, err := client.FetchIssueByNumber(ctx, 1)
	if err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("error = %v, want circuit open", err)
	}
	if attempts.Load() != before {
		t.Error("open circuit must not reach the server")
	}
}

// TestHasNextPage verifies Link header parsing.
func TestHasNextPage(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		wantURL  string
		wantNext bool
	}{
		{
			name:     "has next page",
			link:     `<https://api.github.com/repos/o/r/issues?page=2>; rel="next", <https://api.github.com/repos/o/r/issues?page=5>; rel="last"`,
			wantURL:  "https://api.github.com/repos/o/r/issues?page=2",
			wantNext: true,
		},
		{
			name:     "no next page",
			link:     `<https://api.github.com/repos/o/r/issues?page=1>; rel="prev"`,
			wantNext: false,
		},
		{
			name:     "empty link header",
			wantNext: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.link != "" {
				headers.Set("Link", tt.link)
			}
			gotURL, gotNext := hasNextPage(headers)
			if gotNext != tt.wantNext {
				t.Errorf("hasNextPage() next = %v, want %v", gotNext, tt.wantNext)
			}
			if gotURL != tt.wantURL {
				t.Errorf("hasNextPage() url = %q, want %q", gotURL, tt.wantURL)
			}
		})
	}
}

// TestFetchIssues_ContextCancellation verifies context cancellation stops pagination.
func TestFetchIssues_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", `<http://example.com?page=2>; rel="next"`)
		_ = json.NewEncoder(w).Encode([]Issue{{ID: 1, Number: 1, Title: "Issue"}})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(server.URL).FetchIssues(ctx, "all")
	if err == nil {
		t.Fatal("FetchIssues() error = nil, want error to stop paging")
	}
	if !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "pagination limit exceeded") {
		t.Errorf("error = %v, want context.Canceled or pagination limit exceeded", err)
	}
}

func TestParseRepository(t *testing.T) {
	owner, repo, err := ParseRepository("acme/widgets")
	if err != nil || owner != "acme" || repo != "widgets" {
		t.Errorf("ParseRepository = %q, %q, %v", owner, repo, err)
	}
	for _, bad := range []string{"", "acme", "/widgets", "acme/", "a/b/c"} {
		if _, _, err := ParseRepository(bad); err == nil {
			t.Errorf("ParseRepository(%q) want error", bad)
		}
	}
}
