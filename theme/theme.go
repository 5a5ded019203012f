package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme used by the terminal log handler
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Functional colours
	Primary   pterm.Color
	Secondary pterm.Color
	Danger    pterm.Color
	Warning   pterm.Color
	Good      pterm.Color
}

// Default returns the default theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
		Danger:    pterm.FgRed,
		Warning:   pterm.FgYellow,
		Good:      pterm.FgGreen,
	}
}

// Monochrome returns a theme with no colour, for dumb terminals and logs
// piped through tooling
func Monochrome() *Theme {
	plain := pterm.NewStyle(pterm.FgDefault)
	return &Theme{
		Debug: plain,
		Info:  plain,
		Warn:  plain,
		Error: plain,

		Success:   plain,
		Highlight: plain,
		Muted:     plain,
		Accent:    plain,

		Primary:   pterm.FgDefault,
		Secondary: pterm.FgDefault,
		Danger:    pterm.FgDefault,
		Warning:   pterm.FgDefault,
		Good:      pterm.FgDefault,
	}
}

// GetTheme resolves a theme by name, falling back to the default
func GetTheme(name string) *Theme {
	switch name {
	case "mono", "monochrome", "plain":
		return Monochrome()
	default:
		return Default()
	}
}
