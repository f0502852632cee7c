package tui

import "github.com/charmbracelet/lipgloss"

// Theme defines colors and pre-built styles.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Danger    lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	TextDim   lipgloss.Color
	Border    lipgloss.Color

	TitleStyle       lipgloss.Style
	ActiveTabStyle   lipgloss.Style
	InactiveTabStyle lipgloss.Style
	StatusBarStyle   lipgloss.Style
	SidebarStyle     lipgloss.Style
	InputStyle       lipgloss.Style
	ErrorStyle       lipgloss.Style
	SuccessStyle     lipgloss.Style
	MutedStyle       lipgloss.Style
	DangerStyle      lipgloss.Style
}

// DarkTheme is the default theme.
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Danger:    lipgloss.Color("#EF4444"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
		TextDim:   lipgloss.Color("#9CA3AF"),
		Border:    lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.ActiveTabStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Background(t.Primary).
		Padding(0, 2).
		Bold(true)

	t.InactiveTabStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Padding(0, 2)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Background(lipgloss.Color("#111827"))

	t.SidebarStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderLeft(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.DangerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Danger).
		Bold(true).
		Padding(0, 1)

	return t
}
