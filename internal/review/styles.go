package review

import "github.com/charmbracelet/lipgloss"

// Lip Gloss styles shared by the review session and the CLI diff printer.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5fd7ff"))

	PendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffd75f"))

	AcceptedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ff5f"))

	RejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff005f"))

	DiffAddStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00d75f"))

	DiffDelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5f5f"))

	DiffHunkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5fd7ff"))

	DiffHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5f87ff"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff005f")).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Faint(true).
			Foreground(lipgloss.Color("#a8a8a8"))
)
