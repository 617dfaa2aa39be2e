package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/xpinstall/internal/addons"
)

// Color palette - coherent with charmbracelet style
var (
	Primary   = lipgloss.Color("#7D56F4") // Purple (charmbracelet brand)
	Secondary = lipgloss.Color("#FF79C6") // Pink accent
	Success   = lipgloss.Color("#50FA7B") // Green
	Warning   = lipgloss.Color("#FFB86C") // Orange
	Error     = lipgloss.Color("#FF5555") // Red
	Muted     = lipgloss.Color("#6272A4") // Muted blue-gray
	Text      = lipgloss.Color("#F8F8F2") // Light text
	Subtle    = lipgloss.Color("#44475A") // Dark background accent
	Sky       = lipgloss.Color("#8BE9FD") // Cyan
)

// Base styles
var (
	// Title style for headers
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(Primary).
		Padding(0, 1).
		Bold(true)

	// Normal text
	NormalText = lipgloss.NewStyle().
			Foreground(Text)

	// Muted text
	MutedText = lipgloss.NewStyle().
			Foreground(Muted)

	// Success text
	SuccessText = lipgloss.NewStyle().
			Foreground(Success)

	// Warning text
	WarningText = lipgloss.NewStyle().
			Foreground(Warning)

	// Error text
	ErrorText = lipgloss.NewStyle().
			Foreground(Error)

	// Box border
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Subtle).
		Padding(0, 1)

	// Help text
	Help = lipgloss.NewStyle().
		Foreground(Muted)

	// Spinner
	Spinner = lipgloss.NewStyle().
		Foreground(Primary)
)

// Task list styles
var (
	TaskName = lipgloss.NewStyle().
			Foreground(Text).
			Bold(true)

	TaskPath = lipgloss.NewStyle().
			Foreground(Muted)

	ConflictBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(Warning).
			Bold(true).
			Padding(0, 1)

	ModeBadge = lipgloss.NewStyle().
			Foreground(Secondary).
			Italic(true)
)

var kindColors = map[addons.Kind]lipgloss.Color{
	addons.KindAircraft:       Primary,
	addons.KindScenery:        Success,
	addons.KindSceneryLibrary: Success,
	addons.KindPlugin:         Secondary,
	addons.KindNavdata:        Sky,
	addons.KindLivery:         Warning,
}

// FormatKind returns a fixed-width colored kind label
func FormatKind(k addons.Kind) string {
	color, ok := kindColors[k]
	if !ok {
		color = Muted
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Width(16).Render(k.Label())
}

// FormatConflict returns the badge shown when a target already exists
func FormatConflict() string {
	return ConflictBadge.Render("EXISTS")
}

// FormatMode renders an install mode
func FormatMode(m addons.InstallMode) string {
	return ModeBadge.Render(m.String())
}

// FormatCycle renders a navdata cycle change like "2401 → 2403"
func FormatCycle(existing, next string) string {
	if existing == "" {
		return MutedText.Render("cycle " + next)
	}
	style := MutedText
	if existing > next {
		style = WarningText
	}
	return style.Render("cycle " + existing + " → " + next)
}
