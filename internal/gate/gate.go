// Package gate decides whether a routed agent may run for an event.
//
// Checks run in registration order and the first strict failure is terminal:
// its reason becomes the verdict's skip reason. Soft checks record a warning
// and let evaluation continue. No check mutates anything; the only I/O is
// platform reads.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/telemetry"
	"github.com/steveyegge/repoagents/internal/types"
)

const scopeName = "github.com/steveyegge/repoagents/gate"

// Mode determines whether a failing check skips the agent or only warns.
type Mode string

const (
	ModeStrict Mode = "strict" // skip the agent
	ModeSoft   Mode = "soft"   // warn, keep evaluating
)

// Input is what a check sees for one (agent, event) pair.
type Input struct {
	Agent *types.AgentDefinition
	Event *types.Event

	// Subject is the item label and blocking checks evaluate. It is the
	// event's item, or for a blocking retry the unblocked issue.
	Subject *types.Item

	Now      time.Time
	Platform platform.Reader
	Config   *Config
}

// Labels returns the subject's labels, or nil for label-less events.
func (in *Input) Labels() []string {
	if in.Subject == nil {
		return nil
	}
	return in.Subject.Labels
}

// CheckFunc evaluates one admission rule. An empty reason means pass.
// A non-nil error means the platform could not answer.
type CheckFunc func(ctx context.Context, in *Input) (reason string, err error)

// Check is one named admission rule.
type Check struct {
	ID          string
	Description string
	Mode        Mode
	Run         CheckFunc

	// Advisory checks may be configured soft. Identity and label checks
	// are not advisory and always skip on failure.
	Advisory bool
}

// Config holds deployment-wide gate settings.
type Config struct {
	// AutomationIdentities are actor logins treated as automation, in
	// addition to any login ending in "[bot]".
	AutomationIdentities []string

	// PullRequestAuthor is the automation identity whose open pull
	// requests count toward max_open_prs.
	PullRequestAuthor string

	// RequireExplicit skips agents that configure no authorization
	// category instead of admitting everyone.
	RequireExplicit bool

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultPullRequestAuthor is the identity the default workflow token
// opens pull requests as.
const DefaultPullRequestAuthor = "github-actions[bot]"

func (c *Config) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Gate evaluates the registered checks.
type Gate struct {
	registry *Registry
	platform platform.Reader
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	verdicts metric.Int64Counter
}

// New creates a gate with the built-in checks registered.
func New(p platform.Reader, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PullRequestAuthor == "" {
		cfg.PullRequestAuthor = DefaultPullRequestAuthor
	}
	reg := NewRegistry()
	RegisterBuiltinChecks(reg)

	verdicts, _ := telemetry.Meter(scopeName).Int64Counter("ra.gate.verdicts",
		metric.WithDescription("Admission verdicts by outcome and deciding check"),
	)
	return &Gate{
		registry: reg,
		platform: p,
		cfg:      cfg,
		logger:   logger,
		tracer:   telemetry.Tracer(scopeName),
		verdicts: verdicts,
	}
}

// Registry exposes the check registry so callers can apply a policy.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// Admit runs the checks for one routed agent and returns its verdict.
// Platform errors fail the check that hit them; they are reported in the
// skip reason, not returned.
func (g *Gate) Admit(ctx context.Context, entry types.MatrixEntry, ev *types.Event) (types.ValidationVerdict, error) {
	if entry.Config == nil {
		return types.ValidationVerdict{}, fmt.Errorf("admit %q: matrix entry has no definition", entry.Name)
	}
	if ev == nil {
		return types.ValidationVerdict{}, errors.New("admit: nil event")
	}
	agent := entry.Config

	ctx, span := g.tracer.Start(ctx, "gate.Admit", trace.WithAttributes(
		attribute.String("ra.agent", agent.Name),
		attribute.String("ra.event.kind", string(ev.Kind)),
		attribute.String("ra.event.action", ev.Action),
	))
	defer span.End()

	now := g.cfg.now()
	verdict := types.ValidationVerdict{Agent: agent.Name, DecidedAt: now}

	subject, reason, err := g.resolveSubject(ctx, entry, ev)
	if err != nil || reason != "" {
		return g.skip(ctx, span, verdict, CheckPreFlight, reason, err), nil
	}

	in := &Input{
		Agent:    agent,
		Event:    ev,
		Subject:  subject,
		Now:      now,
		Platform: g.platform,
		Config:   &g.cfg,
	}

	for _, check := range g.registry.Checks() {
		reason, err := g.run(ctx, check, in)
		if err == nil && reason == "" {
			continue
		}
		if check.Mode == ModeSoft {
			msg := reason
			if err != nil {
				msg = err.Error()
			}
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("%s: %s", check.ID, msg))
			g.logger.Warn("soft admission check failed", "agent", agent.Name, "check", check.ID, "reason", msg)
			continue
		}
		return g.skip(ctx, span, verdict, check.ID, reason, err), nil
	}

	snap := *ev
	snap.Item = subject
	data, err := snap.Snapshot()
	if err != nil {
		return types.ValidationVerdict{}, fmt.Errorf("admit %q: snapshot event: %w", agent.Name, err)
	}
	verdict.ShouldRun = true
	verdict.Snapshot = data

	span.SetAttributes(attribute.Bool("ra.should_run", true))
	g.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("ra.should_run", true),
		attribute.String("ra.check", ""),
	))
	g.logger.Info("agent admitted", "agent", agent.Name, "event", ev.Kind, "action", ev.Action)
	return verdict, nil
}

func (g *Gate) run(ctx context.Context, check *Check, in *Input) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gate.check."+check.ID,
		trace.WithAttributes(attribute.String("ra.check", check.ID)),
	)
	defer span.End()

	reason, err := check.Run(ctx, in)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case reason != "":
		span.SetAttributes(attribute.String("ra.skip_reason", reason))
	}
	return reason, err
}

func (g *Gate) skip(ctx context.Context, span trace.Span, v types.ValidationVerdict, check, reason string, err error) types.ValidationVerdict {
	if err != nil {
		reason = fmt.Sprintf("%s: platform query failed: %v", check, err)
	}
	v.ShouldRun = false
	v.Check = check
	v.SkipReason = reason

	span.SetAttributes(
		attribute.Bool("ra.should_run", false),
		attribute.String("ra.check", check),
	)
	g.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("ra.should_run", false),
		attribute.String("ra.check", check),
	))
	g.logger.Info("agent skipped", "agent", v.Agent, "check", check, "reason", reason)
	return v
}

// resolveSubject picks the item later checks evaluate. A blocking retry
// retargets the agent at the first unblocked issue that is still open.
func (g *Gate) resolveSubject(ctx context.Context, entry types.MatrixEntry, ev *types.Event) (*types.Item, string, error) {
	if len(entry.Unblocked) == 0 {
		return ev.Item, "", nil
	}
	for _, number := range entry.Unblocked {
		issue, err := g.platform.Issue(ctx, number)
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		if !issue.IsOpen() {
			continue
		}
		return &types.Item{
			Kind:   types.ItemIssue,
			Number: issue.Number,
			Title:  issue.Title,
			State:  issue.State,
			Labels: issue.Labels,
		}, "", nil
	}
	return nil, "no unblocked issue is still open", nil
}
