package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/repoagents/internal/types"
)

// Built-in check IDs, in evaluation order.
const (
	CheckBotFilter     = "bot-filter"
	CheckAuthorization = "authorization"
	CheckTriggerLabels = "trigger-labels"
	CheckSkipLabels    = "skip-labels"
	CheckRateLimit     = "rate-limit"
	CheckOpenPRCap     = "open-pr-cap"
	CheckPreFlight     = "pre-flight"
)

// RegisterBuiltinChecks registers the seven admission checks in order.
func RegisterBuiltinChecks(reg *Registry) {
	_ = reg.Register(BotFilterCheck())
	_ = reg.Register(AuthorizationCheck())
	_ = reg.Register(TriggerLabelsCheck())
	_ = reg.Register(SkipLabelsCheck())
	_ = reg.Register(RateLimitCheck())
	_ = reg.Register(OpenPRCapCheck())
	_ = reg.Register(PreFlightCheck())
}

// BotFilterCheck rejects events raised by automation identities unless the
// agent allows bot triggers.
func BotFilterCheck() *Check {
	return &Check{
		ID:          CheckBotFilter,
		Description: "event actor is not an automation identity",
		Run: func(_ context.Context, in *Input) (string, error) {
			actor := in.Event.Actor
			if actor == "" || in.Agent.Authorization.AllowBots {
				return "", nil
			}
			if IsAutomation(actor, in.Config.AutomationIdentities) {
				return fmt.Sprintf("actor %s is an automation identity and the agent does not allow bot triggers", actor), nil
			}
			return "", nil
		},
	}
}

// IsAutomation reports whether actor is a bot login or a configured
// automation identity.
func IsAutomation(actor string, identities []string) bool {
	if strings.HasSuffix(strings.ToLower(actor), "[bot]") {
		return true
	}
	return types.ContainsFold(identities, actor)
}

// AuthorizationCheck admits the actor if any configured category matches:
// users, actors, teams, or a minimum repository role. With nothing
// configured every actor is admitted unless the deployment requires
// explicit authorization. Actor-less events (schedules) are system-initiated
// and always pass.
func AuthorizationCheck() *Check {
	return &Check{
		ID:          CheckAuthorization,
		Description: "actor is authorized to trigger the agent",
		Run: func(ctx context.Context, in *Input) (string, error) {
			rule := in.Agent.Authorization
			actor := in.Event.Actor
			if actor == "" {
				return "", nil
			}
			if !rule.HasAllowLists() {
				if in.Config.RequireExplicit {
					return "authorization: agent configures no allowed users, teams, actors or role", nil
				}
				return "", nil
			}

			if types.ContainsFold(rule.Users, actor) || types.ContainsFold(rule.Actors, actor) {
				return "", nil
			}
			for _, team := range rule.Teams {
				ok, err := in.Platform.TeamMember(ctx, team, actor)
				if err != nil {
					return "", fmt.Errorf("team %s: %w", team, err)
				}
				if ok {
					return "", nil
				}
			}
			if rule.MinRole != nil {
				role, err := in.Platform.RepoRole(ctx, actor)
				if err != nil {
					return "", fmt.Errorf("role of %s: %w", actor, err)
				}
				if role >= *rule.MinRole {
					return "", nil
				}
			}
			return fmt.Sprintf("authorization: %s is not an allowed user, actor, team member or role holder", actor), nil
		},
	}
}

// TriggerLabelsCheck requires the subject to carry at least one of the
// agent's trigger labels. Vacuous for events without a label-bearing item.
func TriggerLabelsCheck() *Check {
	return &Check{
		ID:          CheckTriggerLabels,
		Description: "item carries a required trigger label",
		Run: func(_ context.Context, in *Input) (string, error) {
			want := in.Agent.Authorization.TriggerLabels
			if len(want) == 0 || in.Subject == nil {
				return "", nil
			}
			if types.IntersectsFold(want, in.Labels()) {
				return "", nil
			}
			return fmt.Sprintf("item #%d has none of the trigger labels [%s]", in.Subject.Number, strings.Join(want, ", ")), nil
		},
	}
}

// SkipLabelsCheck rejects subjects carrying any skip label.
func SkipLabelsCheck() *Check {
	return &Check{
		ID:          CheckSkipLabels,
		Description: "item carries no skip label",
		Run: func(_ context.Context, in *Input) (string, error) {
			if in.Subject == nil {
				return "", nil
			}
			for _, label := range in.Agent.Authorization.SkipLabels {
				if types.ContainsFold(in.Labels(), label) {
					return fmt.Sprintf("item #%d carries skip label %q", in.Subject.Number, label), nil
				}
			}
			return "", nil
		},
	}
}

// RateLimitCheck rejects a run that would start within the agent's
// rate-limit interval of its previous run, whatever event triggered that.
func RateLimitCheck() *Check {
	return &Check{
		ID:          CheckRateLimit,
		Advisory:    true,
		Description: "agent has not run within its rate-limit interval",
		Run: func(ctx context.Context, in *Input) (string, error) {
			minutes := in.Agent.RateLimit.Minutes
			if minutes <= 0 {
				return "", nil
			}
			last, err := in.Platform.LastRunStart(ctx, in.Agent.Name)
			if err != nil {
				return "", fmt.Errorf("last run: %w", err)
			}
			if last.IsZero() {
				return "", nil
			}
			interval := time.Duration(minutes) * time.Minute
			if elapsed := in.Now.Sub(last); elapsed < interval {
				return fmt.Sprintf("rate limited: last run started %s ago, interval is %d minutes",
					elapsed.Truncate(time.Second), minutes), nil
			}
			return "", nil
		},
	}
}

// OpenPRCapCheck rejects a run when the automation identity already has
// max_open_prs open pull requests in the repository.
func OpenPRCapCheck() *Check {
	return &Check{
		ID:          CheckOpenPRCap,
		Advisory:    true,
		Description: "automation identity is under its open pull request cap",
		Run: func(ctx context.Context, in *Input) (string, error) {
			limit := in.Agent.MaxOpenPRs
			if limit <= 0 {
				return "", nil
			}
			author := in.Config.PullRequestAuthor
			open, err := in.Platform.OpenPullRequests(ctx, author)
			if err != nil {
				return "", fmt.Errorf("open pull requests: %w", err)
			}
			if open >= limit {
				return fmt.Sprintf("%s has %d open pull requests (max %d)", author, open, limit), nil
			}
			return "", nil
		},
	}
}

// PreFlightCheck defers the agent while the subject has open blocking
// dependencies, then enforces the effort cap.
func PreFlightCheck() *Check {
	return &Check{
		ID:          CheckPreFlight,
		Advisory:    true,
		Description: "item is unblocked and within the effort cap",
		Run: func(ctx context.Context, in *Input) (string, error) {
			policy := in.Agent.PreFlight
			if in.Subject == nil || in.Subject.Number == 0 {
				return "", nil
			}
			if policy.CheckBlockingIssues {
				blockers, err := in.Platform.BlockedBy(ctx, in.Subject.Number)
				if err != nil {
					return "", fmt.Errorf("blocking issues: %w", err)
				}
				var open []string
				for _, b := range blockers {
					if b.IsOpen() {
						open = append(open, fmt.Sprintf("#%d", b.Number))
					}
				}
				if len(open) > 0 {
					return fmt.Sprintf("item #%d is blocked by open %s", in.Subject.Number, strings.Join(open, ", ")), nil
				}
			}
			if policy.MaxEstimate > 0 {
				if est, ok := Estimate(in.Labels()); ok && est > policy.MaxEstimate {
					return fmt.Sprintf("item #%d estimate %d exceeds effort cap %d", in.Subject.Number, est, policy.MaxEstimate), nil
				}
			}
			return "", nil
		},
	}
}

// Estimate reads an effort estimate from "effort:<n>" or "estimate:<n>"
// labels. The largest value wins when several are present.
func Estimate(labels []string) (int, bool) {
	best, found := 0, false
	for _, label := range labels {
		key, value, ok := strings.Cut(label, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "effort" && key != "estimate" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			continue
		}
		if !found || n > best {
			best, found = n, true
		}
	}
	return best, found
}
