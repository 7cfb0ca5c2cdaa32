// Package event turns a GitHub Actions event payload into a types.Event.
//
// The runner exposes the event name in GITHUB_EVENT_NAME and the webhook
// payload as a JSON file at GITHUB_EVENT_PATH. Only the fields routing and
// admission look at are decoded.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/repoagents/internal/types"
)

// ErrUnsupported is returned for event families no agent can subscribe to.
var ErrUnsupported = errors.New("unsupported event")

// Environment variables set by the Actions runner.
const (
	EnvEventName  = "GITHUB_EVENT_NAME"
	EnvEventPath  = "GITHUB_EVENT_PATH"
	EnvActor      = "GITHUB_ACTOR"
	EnvRepository = "GITHUB_REPOSITORY"
	EnvRunID      = "GITHUB_RUN_ID"
)

// DispatchAgentInput is the workflow_dispatch input naming one agent.
const DispatchAgentInput = "agent"

type account struct {
	Login string `json:"login"`
}

type label struct {
	Name string `json:"name"`
}

type item struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	State   string   `json:"state"`
	HTMLURL string   `json:"html_url"`
	User    *account `json:"user"`
	Labels  []label  `json:"labels"`
}

type payload struct {
	Action      string         `json:"action"`
	Schedule    string         `json:"schedule"`
	Sender      *account       `json:"sender"`
	Issue       *item          `json:"issue"`
	PullRequest *item          `json:"pull_request"`
	Discussion  *item          `json:"discussion"`
	Inputs      map[string]any `json:"inputs"`
	Repository  *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Meta carries the runner context that is not part of the payload.
type Meta struct {
	Actor      string
	Repository string
	RunID      string
	Now        time.Time
}

// Parse decodes a payload for the named event.
func Parse(name string, data []byte, meta Meta) (*types.Event, error) {
	kind := types.TriggerKind(name)
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}

	var p payload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", name, err)
		}
	}

	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}
	ev := &types.Event{
		Kind:       kind,
		Actor:      meta.Actor,
		Repository: meta.Repository,
		RunID:      meta.RunID,
		ReceivedAt: now.UTC(),
	}
	if p.Sender != nil && p.Sender.Login != "" {
		ev.Actor = p.Sender.Login
	}
	if p.Repository != nil && p.Repository.FullName != "" {
		ev.Repository = p.Repository.FullName
	}

	switch kind {
	case types.TriggerIssues:
		ev.Action = p.Action
		ev.Item = toItem(types.ItemIssue, p.Issue)
	case types.TriggerPullRequest:
		ev.Action = p.Action
		ev.Item = toItem(types.ItemPullRequest, p.PullRequest)
	case types.TriggerDiscussion:
		ev.Action = p.Action
		ev.Item = toItem(types.ItemDiscussion, p.Discussion)
	case types.TriggerSchedule:
		// Scheduled runs have no human actor; the runner reports the last
		// committer, which must not be authorized against.
		ev.Schedule = p.Schedule
		ev.Actor = ""
	case types.TriggerRepositoryDispatch:
		ev.DispatchType = p.Action
	case types.TriggerWorkflowDispatch:
		if agent, ok := p.Inputs[DispatchAgentInput].(string); ok {
			ev.DispatchAgent = strings.TrimSpace(agent)
		}
	}
	return ev, nil
}

func toItem(kind types.ItemKind, it *item) *types.Item {
	if it == nil {
		return nil
	}
	out := &types.Item{
		Kind:   kind,
		Number: it.Number,
		Title:  it.Title,
		Body:   it.Body,
		State:  it.State,
		URL:    it.HTMLURL,
	}
	if it.User != nil {
		out.Author = it.User.Login
	}
	for _, l := range it.Labels {
		out.Labels = append(out.Labels, l.Name)
	}
	return out
}

// FromEnv reads the current event from the runner environment.
func FromEnv(getenv func(string) string) (*types.Event, error) {
	name := getenv(EnvEventName)
	if name == "" {
		return nil, fmt.Errorf("%s is not set; not running inside a workflow", EnvEventName)
	}
	var data []byte
	if path := getenv(EnvEventPath); path != "" {
		b, err := os.ReadFile(path) // #nosec G304 - path provided by the runner
		if err != nil {
			return nil, fmt.Errorf("failed to read event payload: %w", err)
		}
		data = b
	}
	return Parse(name, data, Meta{
		Actor:      getenv(EnvActor),
		Repository: getenv(EnvRepository),
		RunID:      getenv(EnvRunID),
	})
}

// Load reads an event from a file, either a raw payload (name required) or
// a serialized snapshot as written by the admission stage.
func Load(path, name string) (*types.Event, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user-supplied event file
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	if name != "" {
		return Parse(name, data, Meta{})
	}
	return FromSnapshot(data)
}

// FromSnapshot decodes a snapshot produced by types.Event.Snapshot.
func FromSnapshot(data []byte) (*types.Event, error) {
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event snapshot: %w", err)
	}
	if !ev.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ev.Kind)
	}
	return &ev, nil
}
