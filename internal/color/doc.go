// Package color configures terminal colors for the console reporter.
//
// Reporter styles use lipgloss adaptive colors. Setup honours:
//   - NO_COLOR: disable all color output
//   - SIPHARNESS_THEME: force the "dark" or "light" palette
package color
