package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed     = lipgloss.Color("#FF5F5F")
	colorGreen   = lipgloss.Color("#5FD75F")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorCyan    = lipgloss.Color("#5FD7FF")
	colorGray    = lipgloss.Color("#666666")
	colorDimGray = lipgloss.Color("#444444")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorMagenta = lipgloss.Color("#D787FF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	listeningStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	busyStyle = lipgloss.NewStyle().
			Foreground(colorMagenta)

	transcriptStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	panelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorCyan)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	activeMarkStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	questionStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorDimGray)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	noticeStyles = map[string]lipgloss.Style{
		"success": lipgloss.NewStyle().Foreground(colorGreen),
		"warning": lipgloss.NewStyle().Foreground(colorYellow),
		"error":   lipgloss.NewStyle().Foreground(colorRed).Bold(true),
	}

	speechOnStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	confirmStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)
