package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Level is a permission level for one repository resource.
// Levels are ordered: none < read < write.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
)

func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	default:
		return "none"
	}
}

// ParseLevel parses a permission level name, case-insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	}
	return LevelNone, fmt.Errorf("invalid permission level %q (must be none, read, or write)", s)
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Resource is a repository resource a workflow token can be granted access to.
type Resource string

const (
	ResourceContents     Resource = "contents"
	ResourceIssues       Resource = "issues"
	ResourcePullRequests Resource = "pull-requests"
	ResourceDiscussions  Resource = "discussions"
)

// Resources returns all known resources in canonical order.
func Resources() []Resource {
	return []Resource{ResourceContents, ResourceIssues, ResourcePullRequests, ResourceDiscussions}
}

// ParseResource parses a resource name. Underscores are accepted in place of
// hyphens ("pull_requests").
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, known := range Resources() {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown permission resource %q", s)
}

// PermissionSet maps resources to levels. Missing resources are LevelNone.
type PermissionSet map[Resource]Level

// Get returns the level for a resource.
func (p PermissionSet) Get(r Resource) Level {
	if p == nil {
		return LevelNone
	}
	return p[r]
}

// Merge returns a new set holding the per-resource maximum of p and other.
func (p PermissionSet) Merge(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(p)+len(other))
	for r, l := range p {
		out[r] = l
	}
	for r, l := range other {
		out[r] = MaxLevel(out[r], l)
	}
	return out
}

// SortedResources returns the resources present in the set, sorted.
func (p PermissionSet) SortedResources() []Resource {
	out := make([]Resource, 0, len(p))
	for r := range p {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RepoRole is an actor's role on the repository, as reported by the platform.
// Roles are ordered: none < read < triage < write < maintain < admin.
type RepoRole int

const (
	RoleNone RepoRole = iota
	RoleRead
	RoleTriage
	RoleWrite
	RoleMaintain
	RoleAdmin
)

var repoRoleNames = []string{"none", "read", "triage", "write", "maintain", "admin"}

func (r RepoRole) String() string {
	if int(r) < 0 || int(r) >= len(repoRoleNames) {
		return "none"
	}
	return repoRoleNames[r]
}

// ParseRepoRole parses a repository role name, case-insensitive.
func ParseRepoRole(s string) (RepoRole, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	for i, name := range repoRoleNames {
		if name == lower {
			return RepoRole(i), nil
		}
	}
	return RoleNone, fmt.Errorf("invalid repository role %q (must be one of %s)", s, strings.Join(repoRoleNames[1:], ", "))
}

func (r RepoRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RepoRole) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRepoRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
