// Package outputs applies the mutations an agent proposed during execution.
//
// Execution never talks to the platform directly. It writes one proposal
// file per output kind to the outputs directory (<dir>/<kind>.json, a JSON
// object or array of objects). Each file is checked against the agent's
// declared OutputCapability and either applied in full or rejected in full.
package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/util"
)

var (
	// ErrNoHandler is returned for declared kinds without a built-in handler.
	ErrNoHandler = errors.New("no handler for output kind")

	// ErrConstraint is returned when proposals exceed a declared constraint.
	ErrConstraint = errors.New("output constraint violated")
)

// Proposal is one proposed mutation. Which fields matter depends on the kind.
type Proposal struct {
	Number    int      `json:"issue_number,omitempty"`
	Title     string   `json:"title,omitempty"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Handler validates and performs one kind of mutation.
type Handler interface {
	// Validate checks one proposal against the capability. It must not
	// perform I/O.
	Validate(c types.OutputCapability, p Proposal) error

	// Apply performs the mutation.
	Apply(ctx context.Context, w platform.Writer, p Proposal) error
}

// Handlers maps output kinds to their handler.
type Handlers map[types.OutputKind]Handler

// ProposalFile returns the path proposals of kind are read from.
func ProposalFile(dir string, kind types.OutputKind) string {
	return filepath.Join(dir, string(kind)+".json")
}

// LoadProposals reads the proposal file for kind. A missing file yields no
// proposals and no error.
func LoadProposals(dir string, kind types.OutputKind) ([]Proposal, error) {
	data, err := os.ReadFile(ProposalFile(dir, kind)) // #nosec G304 - path built from outputs dir and a known kind
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s proposals: %w", kind, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var ps []Proposal
		if err := json.Unmarshal(data, &ps); err != nil {
			return nil, fmt.Errorf("failed to parse %s proposals: %w", kind, err)
		}
		return ps, nil
	}
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s proposals: %w", kind, err)
	}
	return []Proposal{p}, nil
}

// Executor applies proposals through a platform writer.
type Executor struct {
	Writer   platform.Writer
	Handlers Handlers

	// DefaultNumber is used by proposals that leave issue_number unset,
	// normally the item the triggering event targets.
	DefaultNumber int

	Logger *slog.Logger
}

// NewExecutor returns an executor with the built-in handlers.
func NewExecutor(w platform.Writer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Writer: w, Handlers: Builtin(), Logger: logger}
}

// Run applies the proposals of one kind for one agent. Failures are
// reported in the result; the error is non-nil only alongside a failed or
// rejected result.
func (e *Executor) Run(ctx context.Context, def *types.AgentDefinition, kind types.OutputKind, dir string) (types.OutputResult, error) {
	res := types.OutputResult{Agent: def.Name, Kind: kind}
	fail := func(status string, err error) (types.OutputResult, error) {
		res.Status = status
		res.Error = err.Error()
		e.Logger.Warn("output not applied", "agent", def.Name, "kind", kind, "status", status, "error", err)
		return res, err
	}

	capability, ok := def.Output(kind)
	if !ok {
		return fail(types.OutputRejected, fmt.Errorf("%w: %s is not declared by %s", ErrConstraint, kind, def.Name))
	}
	h, ok := e.Handlers[kind]
	if !ok {
		res.Status = types.OutputUnsupported
		res.Error = fmt.Sprintf("%s: %s", ErrNoHandler, kind)
		e.Logger.Info("output kind has no built-in handler", "agent", def.Name, "kind", kind)
		return res, nil
	}

	proposals, err := LoadProposals(dir, kind)
	if err != nil {
		return fail(types.OutputRejected, err)
	}
	if len(proposals) == 0 {
		res.Status = types.OutputNone
		return res, nil
	}
	if capability.Max > 0 && len(proposals) > capability.Max {
		return fail(types.OutputRejected, fmt.Errorf("%w: %d %s proposals exceed max %d", ErrConstraint, len(proposals), kind, capability.Max))
	}

	for i := range proposals {
		p := &proposals[i]
		if p.Number == 0 {
			p.Number = e.DefaultNumber
		}
		p.Labels = util.NormalizeLabels(p.Labels)
		p.Assignees = util.NormalizeLabels(p.Assignees)
		if capability.Sign && p.Body != "" {
			p.Body = Sign(p.Body, def.Name)
		}
		if err := h.Validate(capability, *p); err != nil {
			return fail(types.OutputRejected, fmt.Errorf("proposal %d: %w", i+1, err))
		}
	}

	for i, p := range proposals {
		if err := h.Apply(ctx, e.Writer, p); err != nil {
			res.Applied = i
			return fail(types.OutputFailed, fmt.Errorf("proposal %d: %w", i+1, err))
		}
	}
	res.Status = types.OutputApplied
	res.Applied = len(proposals)
	e.Logger.Info("outputs applied", "agent", def.Name, "kind", kind, "count", res.Applied)
	return res, nil
}

// SignatureMarker introduces the footer appended to signed bodies.
const SignatureMarker = "<!-- repo-agents -->"

// Sign appends an attribution footer naming the agent.
func Sign(body, agent string) string {
	if strings.Contains(body, SignatureMarker) {
		return body
	}
	return strings.TrimRight(body, "\n") + "\n\n---\n" + SignatureMarker + "\n_Posted by agent **" + agent + "**._\n"
}
