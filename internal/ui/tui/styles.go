package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorAccent = lipgloss.Color("#00A3E1") // Headings and selection
	ColorDeep   = lipgloss.Color("#596E79") // Borders and secondary text
	ColorDark   = lipgloss.Color("#1F2A33")
	ColorText   = lipgloss.Color("#E0E0E0")
	ColorAlert  = lipgloss.Color("#FF6B6B")
	ColorGood   = lipgloss.Color("#4ECDC4")
	ColorWarn   = lipgloss.Color("#FFE66D")
	ColorMuted  = lipgloss.Color("#6c757d")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorDeep).
			Padding(0, 1)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleSubtitle = lipgloss.NewStyle().
			Foreground(ColorDeep).
			Italic(true)

	StyleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDeep).
			Padding(0, 1)

	StyleError = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	StyleGood  = lipgloss.NewStyle().Foreground(ColorGood).Bold(true)
	StyleHelp  = lipgloss.NewStyle().Foreground(ColorMuted).Faint(true)

	StyleTimestamp = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleSource    = lipgloss.NewStyle().Foreground(ColorDeep)

	StyleLevelError = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	StyleLevelWarn  = lipgloss.NewStyle().Foreground(ColorWarn)
	StyleLevelInfo  = lipgloss.NewStyle().Foreground(ColorGood)
	StyleLevelDebug = lipgloss.NewStyle().Foreground(ColorMuted)
)

// levelStyle picks the color of a syslog or slog level name.
func levelStyle(level string) lipgloss.Style {
	switch l := strings.ToLower(level); {
	case strings.HasPrefix(l, "err"), l == "crit", l == "alert", l == "emerg":
		return StyleLevelError
	case strings.HasPrefix(l, "warn"):
		return StyleLevelWarn
	case l == "debug":
		return StyleLevelDebug
	}
	return StyleLevelInfo
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorDeep).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(ColorDark).
		Background(ColorAccent).
		Bold(false)
	return s
}
