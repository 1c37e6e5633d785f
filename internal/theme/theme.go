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
)

// HeaderStyle is used for section headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// URLStyle renders endpoint URLs.
var URLStyle = lipgloss.NewStyle().Bold(true)

// MutedStyle is used for secondary details such as mailbox and UID.
var MutedStyle = lipgloss.NewStyle().Foreground(ColorGray)

// SuccessStyle and FailureStyle mark dispatch outcomes.
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	FailureStyle = lipgloss.NewStyle().Foreground(ColorRed)
)

// OutcomeStyle returns the style for a delivered or failed dispatch.
func OutcomeStyle(ok bool) lipgloss.Style {
	if ok {
		return SuccessStyle
	}
	return FailureStyle
}

// StatusCodeStyle returns a color-coded style for an HTTP status code.
func StatusCodeStyle(code int) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch {
	case code == 0:
		return base.Foreground(ColorGray)
	case code < 300:
		return base.Foreground(ColorGreen)
	case code < 500:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorRed)
	}
}
