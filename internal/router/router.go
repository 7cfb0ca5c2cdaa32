// Package router decides which agents an incoming event selects.
//
// Match is a pure function of (definitions, event). Route layers the
// blocking-dependency retry on top: when an issue closes, agents that defer
// on blocked work get another chance at the issues it was blocking.
package router

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/telemetry"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

const scopeName = "github.com/steveyegge/repoagents/router"

// Match returns a matrix entry for every definition the event selects, in
// definition order.
func Match(defs []*types.AgentDefinition, ev *types.Event) []types.MatrixEntry {
	if ev == nil {
		return nil
	}
	if ev.Kind == types.TriggerWorkflowDispatch && ev.DispatchAgent != "" {
		return matchNamed(defs, ev.DispatchAgent)
	}

	var out []types.MatrixEntry
	for _, def := range defs {
		if matches(def, ev) {
			out = append(out, types.NewMatrixEntry(def))
		}
	}
	return out
}

// matchNamed selects the one agent a manual dispatch names, by name or slug,
// regardless of its declared triggers.
func matchNamed(defs []*types.AgentDefinition, name string) []types.MatrixEntry {
	want := util.Slugify(name)
	for _, def := range defs {
		if strings.EqualFold(def.Name, name) || (want != "" && util.Slugify(def.Name) == want) {
			return []types.MatrixEntry{types.NewMatrixEntry(def)}
		}
	}
	return nil
}

func matches(def *types.AgentDefinition, ev *types.Event) bool {
	trig, ok := def.Trigger(ev.Kind)
	if !ok {
		return false
	}
	switch ev.Kind {
	case types.TriggerIssues, types.TriggerPullRequest, types.TriggerDiscussion:
		return contains(trig.Types, ev.Action)
	case types.TriggerSchedule:
		return contains(trig.Crons, ev.Schedule)
	case types.TriggerRepositoryDispatch:
		return contains(trig.Types, ev.DispatchType)
	case types.TriggerWorkflowDispatch:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Router applies Match plus the blocking-dependency retry.
type Router struct {
	platform platform.Reader
	logger   *slog.Logger
	tracer   trace.Tracer
	matched  metric.Int64Counter
}

// New creates a Router backed by the given platform.
func New(p platform.Reader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	matched, _ := telemetry.Meter(scopeName).Int64Counter("ra.router.matched",
		metric.WithDescription("Agents selected by routing, by selection path"),
	)
	return &Router{
		platform: p,
		logger:   logger,
		tracer:   telemetry.Tracer(scopeName),
		matched:  matched,
	}
}

// Route returns the agents selected for ev. Platform failures during the
// retry lookup are logged and leave the normal matches unchanged.
func (r *Router) Route(ctx context.Context, defs []*types.AgentDefinition, ev *types.Event) []types.MatrixEntry {
	if ev == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "router.Route",
		trace.WithAttributes(
			attribute.String("ra.event.kind", string(ev.Kind)),
			attribute.String("ra.event.action", ev.Action),
			attribute.Int("ra.agent.count", len(defs)),
		),
	)
	defer span.End()

	entries := Match(defs, ev)
	r.matched.Add(ctx, int64(len(entries)), metric.WithAttributes(attribute.String("ra.route.path", "match")))

	if !isIssueClosed(ev) {
		span.SetAttributes(attribute.Int("ra.matched.count", len(entries)))
		return entries
	}

	retried := r.retry(ctx, defs, ev.Item.Number)
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name] = true
	}
	added := 0
	for _, e := range retried {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		entries = append(entries, e)
		added++
	}
	r.matched.Add(ctx, int64(added), metric.WithAttributes(attribute.String("ra.route.path", "blocking-retry")))
	span.SetAttributes(
		attribute.Int("ra.matched.count", len(entries)),
		attribute.Int("ra.retried.count", added),
	)
	return entries
}

func isIssueClosed(ev *types.Event) bool {
	return ev.Kind == types.TriggerIssues && ev.Action == "closed" && ev.Item != nil && ev.Item.Number > 0
}

// retry finds agents with the blocking check enabled whose trigger labels
// intersect an issue the closed issue was blocking and that is still open.
func (r *Router) retry(ctx context.Context, defs []*types.AgentDefinition, closed int) []types.MatrixEntry {
	var candidates []*types.AgentDefinition
	for _, def := range defs {
		if def.PreFlight.CheckBlockingIssues {
			candidates = append(candidates, def)
		}
	}
	if len(candidates) == 0 || r.platform == nil {
		return nil
	}

	blocked, err := r.platform.Blocking(ctx, closed)
	if err != nil {
		r.logger.Warn("blocking lookup failed; skipping retry",
			"issue", closed, "error", err)
		return nil
	}

	var out []types.MatrixEntry
	for _, def := range candidates {
		var unblocked []int
		for _, issue := range blocked {
			if !issue.IsOpen() {
				continue
			}
			want := def.Authorization.TriggerLabels
			if len(want) == 0 || types.IntersectsFold(want, issue.Labels) {
				unblocked = append(unblocked, issue.Number)
			}
		}
		if len(unblocked) == 0 {
			continue
		}
		entry := types.NewMatrixEntry(def)
		entry.Unblocked = unblocked
		out = append(out, entry)
		r.logger.Debug("re-admitting deferred agent",
			"agent", def.Name, "closed", closed, "unblocked", unblocked)
	}
	return out
}
