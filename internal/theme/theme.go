package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
)

// HeaderStyle is used for top-level section headers in command output.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle is used for field labels in key:value command output.
var LabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// SubtleStyle is used for absent or placeholder values.
var SubtleStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// OKStyle marks healthy or present state.
var OKStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// WarnStyle marks state that needs operator attention.
var WarnStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorYellow)

// ErrorStyle marks failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// ListItemStyle is the base style for rows in an interactive list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list row.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// Presence renders a yes/no marker color-coded by whether the value is set.
func Presence(set bool) string {
	if set {
		return OKStyle.Render("yes")
	}
	return SubtleStyle.Render("no")
}

// CountStyle returns a color-coded style for a sync report counter. Zero
// counts render subtle so the interesting numbers stand out.
func CountStyle(n int) lipgloss.Style {
	if n == 0 {
		return SubtleStyle
	}
	return lipgloss.NewStyle().Bold(true).Foreground(ColorWhite)
}
