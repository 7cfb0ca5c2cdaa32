// Package platform defines the repository-host interface the router, gate,
// context collector, output handlers and audit stage talk to.
//
// Reads are best-effort: the platform is an eventually-consistent source of
// truth, never a managed store.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/repoagents/internal/types"
)

// ErrNotFound is returned when the requested issue, user or team is unknown.
var ErrNotFound = errors.New("not found")

// Reader is the read-only query surface.
type Reader interface {
	// Issue returns the state and labels of an issue or pull request.
	Issue(ctx context.Context, number int) (*types.IssueSummary, error)

	// RepoRole returns the user's role on the repository.
	RepoRole(ctx context.Context, user string) (types.RepoRole, error)

	// TeamMember reports whether user is an active member of team
	// ("org/team-slug", or a bare slug in the repository owner's org).
	TeamMember(ctx context.Context, team, user string) (bool, error)

	// BlockedBy returns the issues blocking the given issue.
	BlockedBy(ctx context.Context, number int) ([]types.IssueSummary, error)

	// Blocking returns the issues the given issue blocks.
	Blocking(ctx context.Context, number int) ([]types.IssueSummary, error)

	// LastRunStart returns when the agent last started executing, or the
	// zero time if it never has.
	LastRunStart(ctx context.Context, agent string) (time.Time, error)

	// OpenPullRequests counts open pull requests authored by author.
	OpenPullRequests(ctx context.Context, author string) (int, error)

	// ListItems lists issues or pull requests for context collection.
	ListItems(ctx context.Context, q ItemQuery) ([]types.Item, error)
}

// Writer is the mutation surface used by output handlers and the audit stage.
type Writer interface {
	CreateIssue(ctx context.Context, req NewIssue) (*types.IssueSummary, error)
	AddComment(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int, reason string) error
}

// Platform is the full repository-host surface.
type Platform interface {
	Reader
	Writer
}

// ItemQuery filters ListItems.
type ItemQuery struct {
	Kind   types.ItemKind // issue or pull_request
	State  string         // "open", "closed" or "all" (default "open")
	Since  time.Time      // updated at or after; zero = no bound
	Labels []string       // all must match
	Limit  int            // 0 = implementation default
}

// NewIssue describes an issue to create.
type NewIssue struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}
