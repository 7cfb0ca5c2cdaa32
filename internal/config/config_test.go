package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/repoagents/internal/gate"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
	if ConfigFileUsed() != "" {
		t.Errorf("no project file expected, got %q", ConfigFileUsed())
	}
}

func TestDefaults(t *testing.T) {
	ResetForTesting()

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyAgentsDir, ".github/agents", func(k string) interface{} { return GetString(k) }},
		{KeyWorkflowPath, ".github/workflows/repo-agents.yml", func(k string) interface{} { return GetString(k) }},
		{KeyRequireExplicit, false, func(k string) interface{} { return GetBool(k) }},
		{KeyGitHubRPS, 10.0, func(k string) interface{} { return GetFloat64(k) }},
		{KeyGitHubRunLookback, 20, func(k string) interface{} { return GetInt(k) }},
		{KeyExecutionTimeout, 30 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{KeyPullRequestAuthor, "github-actions[bot]", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	ids := GetStringSlice(KeyCredentialEnv)
	if len(ids) != 2 || ids[0] != "ANTHROPIC_API_KEY" {
		t.Errorf("credentials.env = %v", ids)
	}
}

func TestEnvironmentBinding(t *testing.T) {
	t.Setenv("RA_AGENTS_DIR", "/tmp/agents")
	t.Setenv("RA_AUTHORIZATION_REQUIRE_EXPLICIT", "true")
	t.Setenv("RA_AUTOMATION_IDENTITIES", "renovate[bot], ci-user")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyAgentsDir); got != "/tmp/agents" {
		t.Errorf("agents.dir = %q", got)
	}
	cfg := GateConfig()
	if !cfg.RequireExplicit {
		t.Error("require_explicit not bound from env")
	}
	if len(cfg.AutomationIdentities) != 2 || cfg.AutomationIdentities[1] != "ci-user" {
		t.Errorf("identities = %v", cfg.AutomationIdentities)
	}
}

func TestProjectFileAndGatePolicy(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ConfigDir), 0o750); err != nil {
		t.Fatal(err)
	}
	content := `agents:
  dir: bots
gate:
  checks:
    open-pr-cap:
      mode: soft
    unknown-check:
      mode: soft
`
	path := filepath.Join(dir, ConfigDir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested", "deeper")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}

	oldWd, _ := os.Getwd()
	if err := os.Chdir(sub); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(oldWd) }()

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := GetString(KeyAgentsDir); got != "bots" {
		t.Errorf("agents.dir = %q, want bots (found by walking up)", got)
	}

	policy := GatePolicy()
	if len(policy.Checks) != 1 || policy.Checks[gate.CheckOpenPRCap].Mode != "soft" {
		t.Errorf("policy = %+v", policy)
	}
}

func TestExplicitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if GetString(KeyLogLevel) != "debug" {
		t.Errorf("log.level = %q", GetString(KeyLogLevel))
	}

	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if err := Initialize(); err == nil {
		t.Error("explicit missing file must fail")
	}
}
