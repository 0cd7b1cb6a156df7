// Package themes holds the lipgloss styles of the chat UI.
package themes

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual style for the TUI.
type Theme struct {
	Title            lipgloss.Style
	UserLabel        lipgloss.Style
	UserMessage      lipgloss.Style
	AssistantLabel   lipgloss.Style
	AssistantMessage lipgloss.Style
	ToolLine         lipgloss.Style
	ErrorMessage     lipgloss.Style
	Status           lipgloss.Style
	StatusError      lipgloss.Style
	Spinner          lipgloss.Style
	InputBox         lipgloss.Style
	Primary          lipgloss.Color
	Muted            lipgloss.Color
	Error            lipgloss.Color
	Border           lipgloss.Color
}

// Default is the default theme.
var Default = Theme{
	Primary: lipgloss.Color("#2E8B57"),
	Muted:   lipgloss.Color("#737373"),
	Error:   lipgloss.Color("#ef4444"),
	Border:  lipgloss.Color("#404040"),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#fafafa")).
		Background(lipgloss.Color("#2E8B57")).
		Padding(0, 1),
	UserLabel: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3b82f6")),
	UserMessage: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#e5e5e5")),
	AssistantLabel: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#2E8B57")),
	AssistantMessage: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#fafafa")),
	ToolLine: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#737373")).
		Italic(true),
	ErrorMessage: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ef4444")),
	Status: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#737373")),
	StatusError: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ef4444")).
		Bold(true),
	Spinner: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#2E8B57")),
	InputBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#404040")).
		Padding(0, 1),
}
