package types

import "strings"

// OutputKind names one kind of platform mutation an agent may perform.
type OutputKind string

const (
	OutputAddComment       OutputKind = "add-comment"
	OutputAddLabel         OutputKind = "add-label"
	OutputRemoveLabel      OutputKind = "remove-label"
	OutputCreateIssue      OutputKind = "create-issue"
	OutputCloseIssue       OutputKind = "close-issue"
	OutputCreatePR         OutputKind = "create-pr"
	OutputClosePR          OutputKind = "close-pr"
	OutputUpdateFile       OutputKind = "update-file"
	OutputCreateDiscussion OutputKind = "create-discussion"
)

// OutputKinds returns all known output kinds.
func OutputKinds() []OutputKind {
	return []OutputKind{
		OutputAddComment,
		OutputAddLabel,
		OutputRemoveLabel,
		OutputCreateIssue,
		OutputCloseIssue,
		OutputCreatePR,
		OutputClosePR,
		OutputUpdateFile,
		OutputCreateDiscussion,
	}
}

// IsValid checks if the output kind is recognized.
func (k OutputKind) IsValid() bool {
	for _, known := range OutputKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresContentsWrite reports whether the kind mutates repository contents.
func (k OutputKind) RequiresContentsWrite() bool {
	return k == OutputCreatePR || k == OutputUpdateFile
}

// OutputCapability is a declared, constrained permission to perform one kind
// of mutation. Max, Sign and Paths are the well-known constraints; Extra
// carries kind-specific settings that are passed through unvalidated.
type OutputCapability struct {
	Kind  OutputKind     `json:"kind"`
	Max   int            `json:"max,omitempty"` // 0 = no cap
	Sign  bool           `json:"sign,omitempty"`
	Paths []string       `json:"paths,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// AuthorizationRule controls who may trigger an agent and on which items.
// Users, Teams, Actors and MinRole are OR-combined; an actor matching any
// configured category is authorized.
type AuthorizationRule struct {
	Users         []string  `json:"users,omitempty"`
	Teams         []string  `json:"teams,omitempty"`
	Actors        []string  `json:"actors,omitempty"`
	MinRole       *RepoRole `json:"min_role,omitempty"`
	TriggerLabels []string  `json:"trigger_labels,omitempty"`
	SkipLabels    []string  `json:"skip_labels,omitempty"`
	AllowBots     bool      `json:"allow_bots,omitempty"`
}

// HasAllowLists reports whether any authorization category is configured.
func (a AuthorizationRule) HasAllowLists() bool {
	return len(a.Users) > 0 || len(a.Teams) > 0 || len(a.Actors) > 0 || a.MinRole != nil
}

// ContainsFold reports whether list contains s, ignoring case.
func ContainsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// IntersectsFold reports whether a and b share an element, ignoring case.
func IntersectsFold(a, b []string) bool {
	for _, s := range a {
		if ContainsFold(b, s) {
			return true
		}
	}
	return false
}
