package tui

import "github.com/charmbracelet/lipgloss"

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var userLabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorYellow)

var assistantLabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorGreen)

var statusStyle = lipgloss.NewStyle().
	Foreground(colorDim)

var errorStyle = lipgloss.NewStyle().
	Foreground(colorRed)
