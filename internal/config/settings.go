package config

import (
	"github.com/steveyegge/repoagents/internal/gate"
	"github.com/steveyegge/repoagents/internal/types"
)

// Config keys.
const (
	KeyAgentsDir      = "agents.dir"
	KeyWorkflowPath   = "workflow.path"
	KeyWorkflowName   = "workflow.name"
	KeyWorkflowRunsOn = "workflow.runs_on"
	KeyMaxParallel    = "workflow.max_parallel"
	KeyToolVersion    = "workflow.tool_version"

	KeyAutomationIdentities = "automation.identities"
	KeyPullRequestAuthor    = "automation.pull_request_author"
	KeyRequireExplicit      = "authorization.require_explicit"
	KeyGateChecks           = "gate.checks"

	KeyGitHubAPIURL      = "github.api_url"
	KeyGitHubTokenEnv    = "github.token_env"
	KeyGitHubRepository  = "github.repository"
	KeyGitHubRPS         = "github.requests_per_second"
	KeyGitHubRunLookback = "github.run_lookback"

	KeyCredentialEnv    = "credentials.env"
	KeyPreflightVerify  = "preflight.verify"
	KeyExecutionCommand = "execution.command"
	KeyExecutionTimeout = "execution.timeout"
	KeyOutputsDir       = "execution.outputs_dir"
	KeyAuditLog         = "audit.log"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
)

// RegisterDefaults registers default values for every key.
func RegisterDefaults() {
	if v == nil {
		return
	}
	v.SetDefault(KeyAgentsDir, ".github/agents")
	v.SetDefault(KeyWorkflowPath, ".github/workflows/repo-agents.yml")
	v.SetDefault(KeyWorkflowName, "Repo Agents")
	v.SetDefault(KeyWorkflowRunsOn, "ubuntu-latest")
	v.SetDefault(KeyMaxParallel, 0)
	v.SetDefault(KeyToolVersion, "latest")

	v.SetDefault(KeyAutomationIdentities, []string{gate.DefaultPullRequestAuthor})
	v.SetDefault(KeyPullRequestAuthor, gate.DefaultPullRequestAuthor)
	v.SetDefault(KeyRequireExplicit, false)

	v.SetDefault(KeyGitHubAPIURL, "https://api.github.com")
	v.SetDefault(KeyGitHubTokenEnv, "GITHUB_TOKEN")
	v.SetDefault(KeyGitHubRepository, "")
	v.SetDefault(KeyGitHubRPS, 10)
	v.SetDefault(KeyGitHubRunLookback, 20)

	v.SetDefault(KeyCredentialEnv, types.DefaultCredentialEnv())
	v.SetDefault(KeyPreflightVerify, false)
	v.SetDefault(KeyExecutionCommand, "")
	v.SetDefault(KeyExecutionTimeout, "30m")
	v.SetDefault(KeyOutputsDir, ".ra/outputs")
	v.SetDefault(KeyAuditLog, ".ra/audit.jsonl")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// GateConfig returns the deployment-wide gate settings.
func GateConfig() *gate.Config {
	return &gate.Config{
		AutomationIdentities: GetStringSlice(KeyAutomationIdentities),
		PullRequestAuthor:    GetString(KeyPullRequestAuthor),
		RequireExplicit:      GetBool(KeyRequireExplicit),
	}
}

// GatePolicy returns the per-check mode overrides under gate.checks.
// Both nested tables and flat "gate.checks.<id>.mode" keys are read.
func GatePolicy() *gate.Policy {
	policy := &gate.Policy{Checks: map[string]gate.CheckPolicy{}}
	reg := gate.NewRegistry()
	gate.RegisterBuiltinChecks(reg)
	for _, c := range reg.Checks() {
		if mode := GetString(KeyGateChecks + "." + c.ID + ".mode"); mode != "" {
			policy.Checks[c.ID] = gate.CheckPolicy{Mode: mode}
		}
	}
	return policy
}
