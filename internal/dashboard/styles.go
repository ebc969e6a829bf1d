package dashboard

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/devpoll/devpoll/internal/ui"
)

// Layout breakpoints for responsive design
const (
	BreakpointCompact  = 80
	BreakpointStandard = 120
)

// HeightMinimal is the smallest height that still shows the footer.
const HeightMinimal = 20

// LayoutMode represents the responsive layout mode based on terminal size.
type LayoutMode int

const (
	LayoutMinimal LayoutMode = iota
	LayoutCompact
	LayoutStandard
)

var (
	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1a1a2e")).
			Padding(0, 1)

	unselectedStyle = lipgloss.NewStyle().
			Padding(0, 1)

	pendingStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted)

	runningStyle = lipgloss.NewStyle().
			Foreground(ui.ColorSecondary)

	completedStyle = lipgloss.NewStyle().
			Foreground(ui.ColorSuccess)

	abortedStyle = lipgloss.NewStyle().
			Foreground(ui.ColorError)

	addressStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(ui.ColorError)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ui.ColorPrimary)

	footerStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted)

	outputStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(ui.ColorMuted).
			PaddingLeft(1)

	summaryOKStyle = lipgloss.NewStyle().
			Foreground(ui.ColorSuccess).
			Bold(true)

	summaryBadStyle = lipgloss.NewStyle().
			Foreground(ui.ColorError).
			Bold(true)
)

// GetLayoutMode returns the layout mode based on terminal width.
func GetLayoutMode(width int) LayoutMode {
	switch {
	case width >= BreakpointStandard:
		return LayoutStandard
	case width >= BreakpointCompact:
		return LayoutCompact
	default:
		return LayoutMinimal
	}
}

// ShowFooter returns true if the terminal is tall enough for the footer.
func ShowFooter(height int) bool {
	return height >= HeightMinimal
}
