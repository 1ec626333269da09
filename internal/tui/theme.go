package tui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color roles used throughout the TUI.
type Theme struct {
	Surface      lipgloss.Color
	Border       lipgloss.Color
	BorderAccent lipgloss.Color
	TextDim      lipgloss.Color
	TextMuted    lipgloss.Color
	TextPrimary  lipgloss.Color
	Accent       lipgloss.Color
	Green        lipgloss.Color
	Red          lipgloss.Color
	RedDim       lipgloss.Color
	Blue         lipgloss.Color
}

// activeTheme is a warm dark palette.
var activeTheme = Theme{
	Surface:      lipgloss.Color("#1C1B1A"),
	Border:       lipgloss.Color("#403E3C"),
	BorderAccent: lipgloss.Color("#3AA99F"),
	TextDim:      lipgloss.Color("#575653"),
	TextMuted:    lipgloss.Color("#878580"),
	TextPrimary:  lipgloss.Color("#FFFCF0"),
	Accent:       lipgloss.Color("#3AA99F"),
	Green:        lipgloss.Color("#879A39"),
	Red:          lipgloss.Color("#D14D41"),
	RedDim:       lipgloss.Color("#3E1715"),
	Blue:         lipgloss.Color("#4385BE"),
}

type styles struct {
	title     lipgloss.Style
	label     lipgloss.Style
	muted     lipgloss.Style
	dim       lipgloss.Style
	price     lipgloss.Style
	cursor    lipgloss.Style
	errorText lipgloss.Style
	banner    lipgloss.Style
	panel     lipgloss.Style
	focused   lipgloss.Style
	button    lipgloss.Style
	buttonOff lipgloss.Style
	selected  lipgloss.Style
}

func newStyles(t Theme) styles {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)
	return styles{
		title:     lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
		label:     lipgloss.NewStyle().Foreground(t.TextPrimary).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(t.TextMuted),
		dim:       lipgloss.NewStyle().Foreground(t.TextDim),
		price:     lipgloss.NewStyle().Foreground(t.Blue),
		cursor:    lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
		errorText: lipgloss.NewStyle().Foreground(t.Red),
		banner: lipgloss.NewStyle().
			Foreground(t.TextPrimary).
			Background(t.RedDim).
			Padding(0, 1),
		panel:   panel,
		focused: panel.BorderForeground(t.BorderAccent),
		button: lipgloss.NewStyle().
			Foreground(t.TextPrimary).
			Background(t.Blue).
			Padding(0, 2),
		buttonOff: lipgloss.NewStyle().
			Foreground(t.TextMuted).
			Background(t.Surface).
			Padding(0, 2),
		selected: lipgloss.NewStyle().Background(t.Surface).Foreground(t.TextPrimary),
	}
}
