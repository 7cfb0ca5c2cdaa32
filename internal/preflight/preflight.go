// Package preflight checks that an AI-backend credential is available
// before any other pipeline stage runs.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/steveyegge/repoagents/internal/types"
)

// ErrNoCredential is returned when none of the configured variables is set.
var ErrNoCredential = errors.New("no AI backend credential configured")

// APIKeyEnv is the credential that can be verified against the API.
const APIKeyEnv = types.APIKeyEnv

// Result reports which credential was found.
type Result struct {
	Env      string `json:"env"`
	Verified bool   `json:"verified"`
}

// Find returns the first non-empty variable among names.
func Find(getenv func(string) string, names []string) (Result, string, error) {
	if len(names) == 0 {
		names = types.DefaultCredentialEnv()
	}
	for _, name := range names {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return Result{Env: name}, v, nil
		}
	}
	return Result{}, "", fmt.Errorf("%w: set one of %s", ErrNoCredential, strings.Join(names, ", "))
}

// Verifier checks that a credential is accepted by the backend.
type Verifier interface {
	Verify(ctx context.Context, apiKey string) error
}

// AnthropicVerifier lists models with the key; any API error fails it.
type AnthropicVerifier struct {
	BaseURL string // empty uses the SDK default
	Timeout time.Duration
}

func (v AnthropicVerifier) Verify(ctx context.Context, apiKey string) error {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if v.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(v.BaseURL))
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := anthropic.NewClient(opts...)
	if _, err := client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("credential rejected (status %d): %w", apiErr.StatusCode, err)
		}
		return fmt.Errorf("failed to verify credential: %w", err)
	}
	return nil
}

// Run finds a credential and, when verifier is non-nil and the credential
// is an API key, verifies it.
func Run(ctx context.Context, getenv func(string) string, names []string, verifier Verifier) (Result, error) {
	res, value, err := Find(getenv, names)
	if err != nil {
		return res, err
	}
	if verifier == nil || res.Env != APIKeyEnv {
		return res, nil
	}
	if err := verifier.Verify(ctx, value); err != nil {
		return res, err
	}
	res.Verified = true
	return res, nil
}
