package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	c := &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		RunLookback: DefaultRunLookback,
		limiter:     rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
		retryDelay:  RetryDelay,
		logger:      slog.Default(),
	}
	c.breaker = newBreaker(c.logger)
	return c
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker[*response] {
	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "github",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
	})
}

func (c *Client) clone() *Client {
	cp := *c
	return &cp
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := c.clone()
	cp.HTTPClient = httpClient
	return cp
}

// WithBaseURL returns a new client with a custom base URL (for testing or GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := c.clone()
	cp.BaseURL = baseURL
	return cp
}

// WithRateLimit returns a new client throttled to rps requests per second.
// Zero or negative disables throttling.
func (c *Client) WithRateLimit(rps float64) *Client {
	cp := c.clone()
	if rps <= 0 {
		cp.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		cp.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return cp
}

// WithWorkflow returns a new client whose run lookups inspect the given
// workflow file, skipping the current run.
func (c *Client) WithWorkflow(file string, runID int64) *Client {
	cp := c.clone()
	cp.Workflow = file
	cp.RunID = runID
	return cp
}

// WithLogger returns a new client logging to logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	cp := c.clone()
	cp.logger = logger
	cp.breaker = newBreaker(logger)
	return cp
}

// repoPath returns the "/repos/owner/repo" path prefix.
func (c *Client) repoPath() string {
	return "/repos/" + url.PathEscape(c.Owner) + "/" + url.PathEscape(c.Repo)
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryDelay
	bo.MaxInterval = 30 * c.retryDelay
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, MaxRetries), ctx)
}

// doRequest performs an authenticated request. Transport errors, 5xx and
// rate-limit responses are retried with exponential backoff; other non-2xx
// responses fail immediately with an *APIError. Repeated failures open the
// circuit breaker so a degraded API fails fast.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body any) ([]byte, http.Header, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempt := 0
	op := func() (*response, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("request failed (attempt %d/%d): %w", attempt, MaxRetries+1, err)
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt, MaxRetries+1, err)
		}

		// GitHub signals rate limiting with 429, or 403 and X-RateLimit-Remaining: 0.
		limited := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0")
		if limited {
			if err := c.waitRetryAfter(ctx, resp.Header); err != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("rate limited (attempt %d/%d)", attempt, MaxRetries+1)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Method: method, URL: urlStr, Status: resp.StatusCode, Body: string(respBody)}
			if retryable(resp.StatusCode) {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}

		return &response{body: respBody, header: resp.Header}, nil
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return backoff.RetryWithData(op, c.newBackOff(ctx))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("github API circuit open: %w", err)
		}
		if attempt > MaxRetries && !isClientError(err) {
			return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, err)
		}
		return nil, nil, err
	}
	return resp.body, resp.header, nil
}

// waitRetryAfter honors a Retry-After header, capped at MaxRetryAfter.
func (c *Client) waitRetryAfter(ctx context.Context, h http.Header) error {
	retryAfter := h.Get("Retry-After")
	if retryAfter == "" {
		return nil
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds <= 0 {
		return nil
	}
	delay := min(time.Duration(seconds)*time.Second, MaxRetryAfter)
	c.logger.Debug("github rate limited", "retry_after", delay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// getJSON fetches path and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out any) (http.Header, error) {
	respBody, headers, err := c.doRequest(ctx, http.MethodGet, c.buildURL(path, params), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return headers, nil
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// fetchIssuePages pages through an issue-list endpoint until keep has
// accepted limit issues or the pages run out. limit <= 0 means no limit.
func (c *Client) fetchIssuePages(ctx context.Context, path string, params map[string]string, limit int, keep func(Issue) bool) ([]Issue, error) {
	var all []Issue
	page := 1

	for {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		p := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		for k, v := range params {
			p[k] = v
		}

		var issues []Issue
		headers, err := c.getJSON(ctx, path, p, &issues)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if keep != nil && !keep(issue) {
				continue
			}
			all = append(all, issue)
			if limit > 0 && len(all) >= limit {
				return all, nil
			}
		}

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++

		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return all, nil
}

// FetchIssues lists issues (not pull requests) with optional state filtering.
// state can be "open", "closed", or "all".
func (c *Client) FetchIssues(ctx context.Context, state string) ([]Issue, error) {
	if state == "" {
		state = "all"
	}
	issues, err := c.fetchIssuePages(ctx, c.repoPath()+"/issues", map[string]string{"state": state}, 0,
		func(i Issue) bool { return i.PullRequest == nil })
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues: %w", err)
	}
	return issues, nil
}

// FetchIssueByNumber retrieves a single issue or pull request by number.
func (c *Client) FetchIssueByNumber(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	if _, err := c.getJSON(ctx, c.repoPath()+"/issues/"+strconv.Itoa(number), nil, &issue); err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}
	return &issue, nil
}

// UpdateIssue updates an existing issue. GitHub uses PATCH for issue updates.
func (c *Client) UpdateIssue(ctx context.Context, number int, updates map[string]any) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &issue, nil
}
