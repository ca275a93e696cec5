package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Color palette
	Primary    = lipgloss.Color("#FF6B9D")
	Secondary  = lipgloss.Color("#C792EA")
	Success    = lipgloss.Color("#C3E88D")
	Warning    = lipgloss.Color("#FFCB6B")
	Error      = lipgloss.Color("#F07178")
	Info       = lipgloss.Color("#82AAFF")
	Muted      = lipgloss.Color("#546E7A")
	Foreground = lipgloss.Color("#EEFFFF")
)

// Base styles
var (
	// Title style for headings
	TitleStyle = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true).
		MarginBottom(1)

	// Subtitle style
	SubtitleStyle = lipgloss.NewStyle().
		Foreground(Secondary).
		Italic(true)

	// Normal text
	TextStyle = lipgloss.NewStyle().
		Foreground(Foreground)

	// Muted/dimmed text
	MutedStyle = lipgloss.NewStyle().
		Foreground(Muted)

	// Status styles
	StatusQueued = lipgloss.NewStyle().
		Foreground(Warning)

	StatusDownloading = lipgloss.NewStyle().
		Foreground(Info).
		Bold(true)

	StatusCompleted = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	StatusError = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)

	// Table header
	HeaderStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)

	// Help text
	HelpStyle = lipgloss.NewStyle().
		Foreground(Muted).
		Italic(true).
		MarginTop(1)
)

// StatusStyle picks the style for a download status name.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "queued":
		return StatusQueued
	case "downloading":
		return StatusDownloading
	case "downloaded":
		return StatusCompleted
	case "error":
		return StatusError
	default:
		return MutedStyle
	}
}
