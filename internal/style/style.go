// Package style defines the lipgloss styles shared by CLI output.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Bold is used for names and headings.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim is used for secondary detail the eye can skip.
	Dim = lipgloss.NewStyle().Faint(true)

	// Header renders table column headings.
	Header = lipgloss.NewStyle().Bold(true).Underline(true)

	// Success renders positive outcome markers.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// Warning renders advisory messages.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// Error renders failure messages.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)
