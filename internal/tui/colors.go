package tui

import "github.com/charmbracelet/lipgloss"

// Palette, trimmed down from the cyberpunk theme this TUI grew out of.
var (
	neonPurple = lipgloss.Color("#bd93f9")
	neonCyan   = lipgloss.Color("#8be9fd")
	gray       = lipgloss.Color("#44475a")
	lightGray  = lipgloss.Color("#a9b1d6")

	stateError       = lipgloss.Color("#ff5555")
	statePaused      = lipgloss.Color("#ffb86c")
	stateDownloading = lipgloss.Color("#50fa7b")
	stateDone        = lipgloss.Color("#bd93f9")
)

func statusColor(status string) lipgloss.Color {
	switch status {
	case "downloading":
		return stateDownloading
	case "paused", "pausing", "queued":
		return statePaused
	case "completed":
		return stateDone
	case "error":
		return stateError
	default:
		return lightGray
	}
}
