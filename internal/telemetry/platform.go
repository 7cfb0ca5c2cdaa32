package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

const platformScopeName = "github.com/steveyegge/repoagents/platform"

// InstrumentedPlatform wraps platform.Platform with OTel tracing and metrics.
// Every method gets a span and is counted in ra.platform.* metrics.
type InstrumentedPlatform struct {
	inner  platform.Platform
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapPlatform returns p decorated with OTel instrumentation.
// When telemetry is disabled, p is returned as-is.
func WrapPlatform(p platform.Platform) platform.Platform {
	if !Enabled() {
		return p
	}
	m := Meter(platformScopeName)
	ops, _ := m.Int64Counter("ra.platform.operations",
		metric.WithDescription("Total platform API operations executed"),
	)
	dur, _ := m.Float64Histogram("ra.platform.operation.duration",
		metric.WithDescription("Platform operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("ra.platform.errors",
		metric.WithDescription("Total platform operation errors"),
	)
	return &InstrumentedPlatform{
		inner:  p,
		tracer: Tracer(platformScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (p *InstrumentedPlatform) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("ra.platform.operation", name)}, attrs...)
	ctx, span := p.tracer.Start(ctx, "platform."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	p.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (p *InstrumentedPlatform) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	p.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (p *InstrumentedPlatform) Issue(ctx context.Context, number int) (*types.IssueSummary, error) {
	attrs := []attribute.KeyValue{attribute.Int("ra.issue.number", number)}
	ctx, span, t := p.op(ctx, "Issue", attrs...)
	v, err := p.inner.Issue(ctx, number)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) RepoRole(ctx context.Context, user string) (types.RepoRole, error) {
	attrs := []attribute.KeyValue{attribute.String("ra.actor", user)}
	ctx, span, t := p.op(ctx, "RepoRole", attrs...)
	v, err := p.inner.RepoRole(ctx, user)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) TeamMember(ctx context.Context, team, user string) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("ra.team", team),
		attribute.String("ra.actor", user),
	}
	ctx, span, t := p.op(ctx, "TeamMember", attrs...)
	v, err := p.inner.TeamMember(ctx, team, user)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) BlockedBy(ctx context.Context, number int) ([]types.IssueSummary, error) {
	attrs := []attribute.KeyValue{attribute.Int("ra.issue.number", number)}
	ctx, span, t := p.op(ctx, "BlockedBy", attrs...)
	v, err := p.inner.BlockedBy(ctx, number)
	if err == nil {
		span.SetAttributes(attribute.Int("ra.result.count", len(v)))
	}
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) Blocking(ctx context.Context, number int) ([]types.IssueSummary, error) {
	attrs := []attribute.KeyValue{attribute.Int("ra.issue.number", number)}
	ctx, span, t := p.op(ctx, "Blocking", attrs...)
	v, err := p.inner.Blocking(ctx, number)
	if err == nil {
		span.SetAttributes(attribute.Int("ra.result.count", len(v)))
	}
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) LastRunStart(ctx context.Context, agent string) (time.Time, error) {
	attrs := []attribute.KeyValue{attribute.String("ra.agent", agent)}
	ctx, span, t := p.op(ctx, "LastRunStart", attrs...)
	v, err := p.inner.LastRunStart(ctx, agent)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) OpenPullRequests(ctx context.Context, author string) (int, error) {
	attrs := []attribute.KeyValue{attribute.String("ra.actor", author)}
	ctx, span, t := p.op(ctx, "OpenPullRequests", attrs...)
	v, err := p.inner.OpenPullRequests(ctx, author)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) ListItems(ctx context.Context, q platform.ItemQuery) ([]types.Item, error) {
	attrs := []attribute.KeyValue{attribute.String("ra.item.kind", string(q.Kind))}
	ctx, span, t := p.op(ctx, "ListItems", attrs...)
	v, err := p.inner.ListItems(ctx, q)
	if err == nil {
		span.SetAttributes(attribute.Int("ra.result.count", len(v)))
	}
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Writes ──────────────────────────────────────────────────────────────────

func (p *InstrumentedPlatform) CreateIssue(ctx context.Context, req platform.NewIssue) (*types.IssueSummary, error) {
	attrs := []attribute.KeyValue{attribute.Int("ra.label.count", len(req.Labels))}
	ctx, span, t := p.op(ctx, "CreateIssue", attrs...)
	v, err := p.inner.CreateIssue(ctx, req)
	p.done(ctx, span, t, err, attrs...)
	return v, err
}

func (p *InstrumentedPlatform) AddComment(ctx context.Context, number int, body string) error {
	attrs := []attribute.KeyValue{attribute.Int("ra.issue.number", number)}
	ctx, span, t := p.op(ctx, "AddComment", attrs...)
	err := p.inner.AddComment(ctx, number, body)
	p.done(ctx, span, t, err, attrs...)
	return err
}

func (p *InstrumentedPlatform) AddLabels(ctx context.Context, number int, labels []string) error {
	attrs := []attribute.KeyValue{
		attribute.Int("ra.issue.number", number),
		attribute.Int("ra.label.count", len(labels)),
	}
	ctx, span, t := p.op(ctx, "AddLabels", attrs...)
	err := p.inner.AddLabels(ctx, number, labels)
	p.done(ctx, span, t, err, attrs...)
	return err
}

func (p *InstrumentedPlatform) RemoveLabel(ctx context.Context, number int, label string) error {
	attrs := []attribute.KeyValue{
		attribute.Int("ra.issue.number", number),
		attribute.String("ra.label", label),
	}
	ctx, span, t := p.op(ctx, "RemoveLabel", attrs...)
	err := p.inner.RemoveLabel(ctx, number, label)
	p.done(ctx, span, t, err, attrs...)
	return err
}

func (p *InstrumentedPlatform) CloseIssue(ctx context.Context, number int, reason string) error {
	attrs := []attribute.KeyValue{attribute.Int("ra.issue.number", number)}
	ctx, span, t := p.op(ctx, "CloseIssue", attrs...)
	err := p.inner.CloseIssue(ctx, number, reason)
	p.done(ctx, span, t, err, attrs...)
	return err
}
