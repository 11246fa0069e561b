package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/HexSleeves/parley/internal/turns"
)

var (
	colorGold    = lipgloss.Color("#F5A623")
	colorMagenta = lipgloss.Color("#C678DD")
	colorGreen   = lipgloss.Color("#50C878")
	colorRed     = lipgloss.Color("#FF6B6B")
	colorCyan    = lipgloss.Color("#88C0D0")
	colorDimGray = lipgloss.Color("#555555")
	colorWhite   = lipgloss.Color("#E6E6E6")
	colorSubtle  = lipgloss.Color("#888888")
)

var (
	headerBar = lipgloss.NewStyle().
		Foreground(colorGold).
		Bold(true).
		Padding(0, 1)

	footerBar = lipgloss.NewStyle().
		Foreground(colorSubtle).
		Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().
		Foreground(colorSubtle)

	textStyle = lipgloss.NewStyle().
		Foreground(colorWhite)

	toolCallStyle = lipgloss.NewStyle().
		Foreground(colorCyan)

	errorStyle = lipgloss.NewStyle().
		Foreground(colorRed)

	successStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	roleColors = map[turns.Role]lipgloss.Color{
		turns.RoleSystem:    colorMagenta,
		turns.RoleUser:      colorCyan,
		turns.RoleAssistant: colorGreen,
		turns.RoleTool:      colorGold,
	}
)

func roleColor(r turns.Role) lipgloss.Color {
	if c, ok := roleColors[r]; ok {
		return c
	}
	return colorRed
}

// messageBlock draws a left rule in the role colour; a message with
// violations gets a red rule instead.
func messageBlock(r turns.Role, flagged bool) lipgloss.Style {
	c := roleColor(r)
	if flagged {
		c = colorRed
	}
	return lipgloss.NewStyle().
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(c).
		PaddingLeft(1)
}

func roleLabel(r turns.Role) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(roleColor(r)).Bold(true)
}

var dimStyle = lipgloss.NewStyle().Foreground(colorDimGray)
