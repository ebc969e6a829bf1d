package ui

import "github.com/charmbracelet/lipgloss"

// Poll outcome colors.
const (
	ColorSuccess lipgloss.Color = "2" // ok
	ColorError   lipgloss.Color = "1" // connect/exec errors, aborted hosts
	ColorWarning lipgloss.Color = "3" // timeouts
)

// Text colors. Secondary marks host names and in-flight polls.
const (
	ColorPrimary   lipgloss.Color = "7"
	ColorSecondary lipgloss.Color = "4"
	ColorMuted     lipgloss.Color = "8"
)
