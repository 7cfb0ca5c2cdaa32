package outputs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
)

// MaxBodyLength is GitHub's limit on issue and comment bodies.
const MaxBodyLength = 65536

// Builtin returns the handlers for the kinds applied through the issues API.
// Kinds that mutate repository contents or discussions have none.
func Builtin() Handlers {
	return Handlers{
		types.OutputAddComment:  commentHandler{},
		types.OutputAddLabel:    labelHandler{remove: false},
		types.OutputRemoveLabel: labelHandler{remove: true},
		types.OutputCreateIssue: createIssueHandler{},
		types.OutputCloseIssue:  closeIssueHandler{},
	}
}

// AllowList reads a string list constraint from a capability's extra
// settings. Hyphenated and underscored spellings are equivalent.
func AllowList(c types.OutputCapability, key string) []string {
	want := strings.ReplaceAll(key, "-", "_")
	for k, v := range c.Extra {
		if strings.ReplaceAll(k, "-", "_") != want {
			continue
		}
		switch list := v.(type) {
		case []string:
			return list
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func needNumber(p Proposal) error {
	if p.Number <= 0 {
		return errors.New("issue_number is required")
	}
	return nil
}

func checkBody(p Proposal, required bool) error {
	if required && strings.TrimSpace(p.Body) == "" {
		return errors.New("body is required")
	}
	if len(p.Body) > MaxBodyLength {
		return fmt.Errorf("body is %d bytes, limit is %d", len(p.Body), MaxBodyLength)
	}
	return nil
}

func checkAllowed(c types.OutputCapability, key string, values []string) error {
	allowed := AllowList(c, key)
	if len(allowed) == 0 {
		return nil
	}
	for _, v := range values {
		if !types.ContainsFold(allowed, v) {
			return fmt.Errorf("%w: %q is not in %s", ErrConstraint, v, key)
		}
	}
	return nil
}

type commentHandler struct{}

func (commentHandler) Validate(_ types.OutputCapability, p Proposal) error {
	if err := needNumber(p); err != nil {
		return err
	}
	return checkBody(p, true)
}

func (commentHandler) Apply(ctx context.Context, w platform.Writer, p Proposal) error {
	return w.AddComment(ctx, p.Number, p.Body)
}

type labelHandler struct {
	remove bool
}

func (labelHandler) Validate(c types.OutputCapability, p Proposal) error {
	if err := needNumber(p); err != nil {
		return err
	}
	if len(p.Labels) == 0 {
		return errors.New("labels are required")
	}
	return checkAllowed(c, "allowed_labels", p.Labels)
}

func (h labelHandler) Apply(ctx context.Context, w platform.Writer, p Proposal) error {
	if !h.remove {
		return w.AddLabels(ctx, p.Number, p.Labels)
	}
	for _, l := range p.Labels {
		if err := w.RemoveLabel(ctx, p.Number, l); err != nil {
			return err
		}
	}
	return nil
}

type createIssueHandler struct{}

func (createIssueHandler) Validate(c types.OutputCapability, p Proposal) error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if err := checkBody(p, false); err != nil {
		return err
	}
	return checkAllowed(c, "allowed_labels", p.Labels)
}

func (createIssueHandler) Apply(ctx context.Context, w platform.Writer, p Proposal) error {
	_, err := w.CreateIssue(ctx, platform.NewIssue{
		Title:     p.Title,
		Body:      p.Body,
		Labels:    p.Labels,
		Assignees: p.Assignees,
	})
	return err
}

type closeIssueHandler struct{}

func (closeIssueHandler) Validate(_ types.OutputCapability, p Proposal) error {
	if err := needNumber(p); err != nil {
		return err
	}
	switch p.Reason {
	case "", "completed", "not_planned":
	default:
		return fmt.Errorf("reason %q must be completed or not_planned", p.Reason)
	}
	return checkBody(p, false)
}

func (closeIssueHandler) Apply(ctx context.Context, w platform.Writer, p Proposal) error {
	if strings.TrimSpace(p.Body) != "" {
		if err := w.AddComment(ctx, p.Number, p.Body); err != nil {
			return err
		}
	}
	return w.CloseIssue(ctx, p.Number, p.Reason)
}
