package color

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ThemeEnv forces the "dark" or "light" palette.
const ThemeEnv = "SIPHARNESS_THEME"

// Initialize sets the background lipgloss assumes when picking adaptive colors.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Setup applies NO_COLOR and the theme override from the environment.
// lookup is usually os.LookupEnv.
func Setup(lookup func(string) (string, bool)) {
	if _, ok := lookup("NO_COLOR"); ok {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	theme, _ := lookup(ThemeEnv)
	switch strings.ToLower(strings.TrimSpace(theme)) {
	case "dark":
		Initialize(true)
	case "light":
		Initialize(false)
	}
}
