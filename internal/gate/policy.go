package gate

import (
	"fmt"
	"strings"
)

// Policy overrides check modes, keyed by check ID. It is loaded from the
// "gate.checks" configuration table:
//
//	gate:
//	  checks:
//	    open-pr-cap: {mode: soft}
//	    rate-limit:  {mode: strict}
//
// Only advisory checks (rate-limit, open-pr-cap, pre-flight) accept soft.
type Policy struct {
	Checks map[string]CheckPolicy `mapstructure:"checks" json:"checks"`
}

// CheckPolicy configures a single check's mode.
type CheckPolicy struct {
	Mode string `mapstructure:"mode" json:"mode"` // "strict" or "soft"
}

// ParseMode parses a check mode, case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeStrict):
		return ModeStrict, nil
	case string(ModeSoft):
		return ModeSoft, nil
	}
	return "", fmt.Errorf("unknown check mode %q (valid: strict, soft)", s)
}

// ApplyPolicy overrides check modes in reg. Checks named in the policy
// but not registered are ignored. Invalid modes, and soft mode on a
// check that is not advisory, are reported and leave the check strict.
func ApplyPolicy(reg *Registry, policy *Policy) error {
	if policy == nil {
		return nil
	}
	var bad []string
	for id, cp := range policy.Checks {
		c := reg.Get(id)
		if c == nil {
			continue
		}
		mode, err := ParseMode(cp.Mode)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if mode == ModeSoft && !c.Advisory {
			bad = append(bad, fmt.Sprintf("%s: check cannot be soft", id))
			continue
		}
		c.Mode = mode
	}
	if len(bad) > 0 {
		return fmt.Errorf("gate policy: %s", strings.Join(bad, "; "))
	}
	return nil
}
