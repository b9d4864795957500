// Package tui provides the Bubble Tea progress view for gstream run.
//
// The view is opt-in (--tui). It consumes the same event stream as the
// line-oriented output and shows no data the events do not carry.
package tui

import "github.com/charmbracelet/lipgloss"

// Colors adapt to light and dark terminal backgrounds.
var (
	accent = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#A78BFA"}
	good   = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	busy   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	bad    = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	dim    = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	text   = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
	fill   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(dim).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(text)
	logStyle   = lipgloss.NewStyle().Foreground(dim).PaddingLeft(2)
	helpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	barFull  = lipgloss.NewStyle().Foreground(fill)
	barEmpty = lipgloss.NewStyle().Foreground(dim)

	// Summary box shown once the session has ended.
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dim).
			Padding(0, 2)
)

var stateColors = map[string]lipgloss.AdaptiveColor{
	"finished":  good,
	"completed": good,
	"running":   busy,
	"stopping":  busy,
	"stopped":   busy,
	"failed":    bad,
	"error":     bad,
}

// stateStyle colors a session state label. Unknown states use the plain
// value color.
func stateStyle(state string) lipgloss.Style {
	c, ok := stateColors[state]
	if !ok {
		return valueStyle
	}
	return lipgloss.NewStyle().Foreground(c)
}

// outcomeStyle colors the summary text.
func outcomeStyle(failed bool) lipgloss.Style {
	if failed {
		return lipgloss.NewStyle().Foreground(bad)
	}
	return lipgloss.NewStyle().Foreground(good)
}
