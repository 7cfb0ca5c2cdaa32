package ui

import "testing"

func TestIconFallback(t *testing.T) {
	t.Setenv(EnvNoEmoji, "1")
	if got := IconFail.String(); got != "FAIL" {
		t.Errorf("IconFail.String() = %q, want plain form", got)
	}
	t.Setenv("NO_COLOR", "1")
	if got := RenderPassIcon(); got != "ok" {
		t.Errorf("RenderPassIcon() = %q, want unstyled plain icon", got)
	}
}
