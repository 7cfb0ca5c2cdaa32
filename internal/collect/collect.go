// Package collect gathers recent repository activity for an agent run.
//
// An agent with a context section declares a lookback window, the sources
// to read and a minimum item count. When fewer items are found the run is
// skipped with ErrBelowThreshold; execution never starts on an empty window.
package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/timeparsing"
	"github.com/steveyegge/repoagents/internal/types"
)

// ErrBelowThreshold signals that too little activity was found to run.
var ErrBelowThreshold = errors.New("context below threshold")

// Defaults applied when a context section leaves them out.
const (
	DefaultSince = "24h"
	DefaultLimit = 50
)

// Context sources.
const (
	SourceIssues       = "issues"
	SourcePullRequests = "pull_requests"
)

// Config is one collection request.
type Config struct {
	Context  *types.ContextConfig
	Event    *types.Event
	Platform platform.Reader
	Now      time.Time
}

// Bundle is the collected context handed to execution.
type Bundle struct {
	Event        *types.Event `json:"event,omitempty"`
	Since        time.Time    `json:"since"`
	Issues       []types.Item `json:"issues,omitempty"`
	PullRequests []types.Item `json:"pull_requests,omitempty"`
}

// Count returns the number of collected items.
func (b *Bundle) Count() int {
	return len(b.Issues) + len(b.PullRequests)
}

// Collect reads the configured sources. Without a context section only the
// event is returned. The bundle is returned alongside ErrBelowThreshold so
// callers can report what was found.
func Collect(ctx context.Context, cfg Config) (*Bundle, error) {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	b := &Bundle{Event: cfg.Event}
	cc := cfg.Context
	if cc == nil {
		return b, nil
	}
	if cfg.Platform == nil {
		return nil, errors.New("collect: no platform configured")
	}

	since := cc.Since
	if since == "" {
		since = DefaultSince
	}
	start, err := timeparsing.ParseSince(since, now)
	if err != nil {
		return nil, fmt.Errorf("invalid context window: %w", err)
	}
	b.Since = start

	limit := cc.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	include := cc.Include
	if len(include) == 0 {
		include = []string{SourceIssues}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range include {
		var (
			kind types.ItemKind
			dst  *[]types.Item
		)
		switch src {
		case SourceIssues:
			kind, dst = types.ItemIssue, &b.Issues
		case SourcePullRequests:
			kind, dst = types.ItemPullRequest, &b.PullRequests
		default:
			return nil, fmt.Errorf("unknown context source %q", src)
		}
		g.Go(func() error {
			items, err := cfg.Platform.ListItems(gctx, platform.ItemQuery{
				Kind:   kind,
				State:  "all",
				Since:  start,
				Labels: cc.Labels,
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("failed to collect %s: %w", src, err)
			}
			*dst = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if b.Count() < cc.MinItems {
		return b, fmt.Errorf("%w: found %d items since %s, need %d",
			ErrBelowThreshold, b.Count(), start.Format(time.RFC3339), cc.MinItems)
	}
	return b, nil
}

// Markdown renders the bundle as the context document given to the agent.
func (b *Bundle) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Repository context\n\n")

	if ev := b.Event; ev != nil {
		sb.WriteString("## Triggering event\n\n")
		fmt.Fprintf(&sb, "- Event: `%s`", ev.Kind)
		if ev.Action != "" {
			fmt.Fprintf(&sb, " (%s)", ev.Action)
		}
		sb.WriteString("\n")
		if ev.Actor != "" {
			fmt.Fprintf(&sb, "- Actor: @%s\n", ev.Actor)
		}
		if ev.Schedule != "" {
			fmt.Fprintf(&sb, "- Schedule: `%s`\n", ev.Schedule)
		}
		if ev.DispatchType != "" {
			fmt.Fprintf(&sb, "- Dispatch type: `%s`\n", ev.DispatchType)
		}
		if it := ev.Item; it != nil {
			fmt.Fprintf(&sb, "- Item: #%d %s\n", it.Number, it.Title)
			if len(it.Labels) > 0 {
				fmt.Fprintf(&sb, "- Labels: %s\n", strings.Join(it.Labels, ", "))
			}
			if body := strings.TrimSpace(it.Body); body != "" {
				sb.WriteString("\n")
				sb.WriteString(body)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	if !b.Since.IsZero() {
		writeItems(&sb, "Issues", b.Issues, b.Since)
		writeItems(&sb, "Pull requests", b.PullRequests, b.Since)
	}
	return sb.String()
}

func writeItems(sb *strings.Builder, title string, items []types.Item, since time.Time) {
	fmt.Fprintf(sb, "## %s updated since %s\n\n", title, since.UTC().Format("2006-01-02 15:04 MST"))
	if len(items) == 0 {
		sb.WriteString("_None._\n\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(sb, "- #%d [%s] %s", it.Number, it.State, it.Title)
		if it.Author != "" {
			fmt.Fprintf(sb, " (@%s)", it.Author)
		}
		if len(it.Labels) > 0 {
			fmt.Fprintf(sb, " `%s`", strings.Join(it.Labels, "` `"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
