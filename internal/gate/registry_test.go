package gate

import (
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&Check{ID: "first"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("expected 1 check, got %d", reg.Count())
	}
	if got := reg.Get("first").Mode; got != ModeStrict {
		t.Errorf("default mode = %q, want strict", got)
	}
}

func TestRegistryDuplicateReject(t *testing.T) {
	reg := NewRegistry()

	c := &Check{ID: "dup"}
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(c); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistryOrderAndUnregister(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := reg.Register(&Check{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	reg.Unregister("b")
	reg.Unregister("missing")

	checks := reg.Checks()
	if len(checks) != 2 || checks[0].ID != "a" || checks[1].ID != "c" {
		t.Fatalf("unexpected order after unregister: %v", checks)
	}
	if reg.Get("b") != nil {
		t.Error("Get should return nil after unregister")
	}
}

func TestApplyPolicy_InvalidMode(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltinChecks(reg)

	err := ApplyPolicy(reg, &Policy{Checks: map[string]CheckPolicy{CheckRateLimit: {Mode: "loud"}}})
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if reg.Get(CheckRateLimit).Mode != ModeStrict {
		t.Error("invalid mode must leave the check unchanged")
	}
	if err := ApplyPolicy(reg, nil); err != nil {
		t.Errorf("nil policy: %v", err)
	}
}
