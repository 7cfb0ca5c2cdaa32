package types

import "time"

// Execution job and step names in the compiled workflow. The platform
// client finds an agent's past runs by the job name and the execution
// step's status.
const (
	ExecutionJobPrefix = "Run "
	ExecutionStepName  = "Execute agent"
)

// APIKeyEnv is the API key credential variable.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// DefaultCredentialEnv returns the accepted AI backend credential
// variables, in lookup order.
func DefaultCredentialEnv() []string {
	return []string{APIKeyEnv, "CLAUDE_CODE_OAUTH_TOKEN"}
}

// Execution outcomes recorded in ExecutionStatus.Status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// ExecutionStatus is written by the execution stage and read by the output
// and audit stages.
type ExecutionStatus struct {
	Agent      string    `json:"agent"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Output result states.
const (
	OutputApplied     = "applied"
	OutputNone        = "none"
	OutputRejected    = "rejected"
	OutputFailed      = "failed"
	OutputUnsupported = "unsupported"
)

// OutputResult is the outcome of applying one agent's proposals of one kind.
type OutputResult struct {
	Agent   string     `json:"agent"`
	Kind    OutputKind `json:"kind"`
	Status  string     `json:"status"`
	Applied int        `json:"applied"`
	Error   string     `json:"error,omitempty"`
}

// Failed reports whether the result should be escalated.
func (r OutputResult) Failed() bool {
	return r.Status == OutputRejected || r.Status == OutputFailed
}
