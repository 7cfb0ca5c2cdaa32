package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/event"
	"github.com/steveyegge/repoagents/internal/github"
	"github.com/steveyegge/repoagents/internal/platform"
	"github.com/steveyegge/repoagents/internal/telemetry"
)

// newPlatform builds the repository-host client for pipeline commands.
// Tests replace it with an in-memory platform.
var newPlatform = func() (platform.Platform, error) {
	repository := config.GetString(config.KeyGitHubRepository)
	if repository == "" {
		repository = os.Getenv(event.EnvRepository)
	}
	owner, repo, err := github.ParseRepository(repository)
	if err != nil {
		return nil, fmt.Errorf("%w (set github.repository or %s)", err, event.EnvRepository)
	}

	tokenEnv := config.GetString(config.KeyGitHubTokenEnv)
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%s is not set", tokenEnv)
	}

	var runID int64
	if s := os.Getenv(event.EnvRunID); s != "" {
		if runID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", event.EnvRunID, s, err)
		}
	}

	client := github.NewClient(token, owner, repo).
		WithBaseURL(config.GetString(config.KeyGitHubAPIURL)).
		WithRateLimit(config.GetFloat64(config.KeyGitHubRPS)).
		WithWorkflow(filepath.Base(config.GetString(config.KeyWorkflowPath)), runID).
		WithLogger(logger)
	client.RunLookback = config.GetInt(config.KeyGitHubRunLookback)
	return telemetry.WrapPlatform(client), nil
}

func mustPlatform() platform.Platform {
	p, err := newPlatform()
	if err != nil {
		FatalErrorWithHint(fmt.Sprintf("cannot reach repository host: %v", err),
			"pipeline commands run inside the compiled workflow, which provides GITHUB_TOKEN and GITHUB_REPOSITORY")
	}
	return p
}
