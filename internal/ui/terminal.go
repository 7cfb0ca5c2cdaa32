package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Environment switches for plain output.
const (
	EnvNoEmoji   = "RA_NO_EMOJI"
	EnvAgentMode = "RA_AGENT_MODE"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsAgentMode reports whether output is consumed by a program rather
// than a person: inside GitHub Actions or when RA_AGENT_MODE is set.
func IsAgentMode() bool {
	return os.Getenv(EnvAgentMode) != "" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions, then
// falls back to terminal detection.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok && os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}
	if !IsTerminal() {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// ShouldUseEmoji reports whether icons may be printed.
func ShouldUseEmoji() bool {
	if os.Getenv(EnvNoEmoji) != "" {
		return false
	}
	return IsTerminal()
}
