package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		isDarkMode bool
		expected   bool
	}{
		{"set dark mode", true, true},
		{"set light mode", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.isDarkMode)
			if lipgloss.HasDarkBackground() != tt.expected {
				t.Errorf("lipgloss.HasDarkBackground() got %v, want %v after Initialize(%v)", lipgloss.HasDarkBackground(), tt.expected, tt.isDarkMode)
			}
		})
	}
}

func TestSetup(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}
	}

	tests := []struct {
		name     string
		vars     map[string]string
		initial  bool
		expected bool
	}{
		{"dark theme", map[string]string{ThemeEnv: "dark"}, false, true},
		{"light theme", map[string]string{ThemeEnv: " Light "}, true, false},
		{"no override keeps setting", map[string]string{}, true, true},
		{"unknown theme keeps setting", map[string]string{ThemeEnv: "solarized"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.initial)
			Setup(env(tt.vars))
			if lipgloss.HasDarkBackground() != tt.expected {
				t.Errorf("lipgloss.HasDarkBackground() got %v, want %v", lipgloss.HasDarkBackground(), tt.expected)
			}
		})
	}

	t.Run("NO_COLOR", func(t *testing.T) {
		original := lipgloss.ColorProfile()
		defer lipgloss.SetColorProfile(original)

		Setup(env(map[string]string{"NO_COLOR": ""}))
		if lipgloss.ColorProfile() != termenv.Ascii {
			t.Errorf("expected Ascii profile, got %v", lipgloss.ColorProfile())
		}
		if got := lipgloss.NewStyle().Bold(true).Render("x"); got != "x" {
			t.Errorf("expected plain output, got %q", got)
		}
	})
}
