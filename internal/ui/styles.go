// Package ui renders ra's terminal output: status icons, colors and
// markdown. Colors adapt to light and dark terminals and are dropped when
// output is not a terminal or NO_COLOR is set.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
)

// Icon is a status glyph with a plain-text fallback for logs and
// terminals that cannot show symbols.
type Icon struct {
	Symbol string
	Plain  string
}

var (
	IconPass = Icon{"✓", "ok"}
	IconWarn = Icon{"⚠", "warn"}
	IconFail = Icon{"✗", "FAIL"}
	IconSkip = Icon{"-", "skip"}
)

// String returns the symbol, or the plain form when emoji are disabled.
func (i Icon) String() string {
	if ShouldUseEmoji() {
		return i.Symbol
	}
	return i.Plain
}

// Tree characters for detail lines.
const (
	TreeChild = "├─ "
	TreeLast  = "└─ "
)

func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

func RenderPassIcon() string { return PassStyle.Render(IconPass.String()) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn.String()) }
func RenderFailIcon() string { return FailStyle.Render(IconFail.String()) }
func RenderSkipIcon() string { return MutedStyle.Render(IconSkip.String()) }
