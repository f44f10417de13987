// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func asciiRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	return r
}

func TestNewThemeFor_ForcedMode(t *testing.T) {
	if theme := NewThemeFor(asciiRenderer(), "light"); theme.IsDark {
		t.Error("light mode should not report a dark background")
	}
	if theme := NewThemeFor(asciiRenderer(), "dark"); !theme.IsDark {
		t.Error("dark mode should report a dark background")
	}
}

func TestPlainTheme_NoEscapes(t *testing.T) {
	theme := PlainTheme()

	styles := map[string]lipgloss.Style{
		"Heading1":   theme.Heading1,
		"Paragraph":  theme.Paragraph,
		"Bold":       theme.Bold,
		"Link":       theme.Link,
		"InlineCode": theme.InlineCode,
	}
	for name, s := range styles {
		out := s.Render("text")
		if strings.Contains(out, "\x1b[") {
			t.Errorf("%s emitted escape sequences: %q", name, out)
		}
		if !strings.Contains(out, "text") {
			t.Errorf("%s lost its content: %q", name, out)
		}
	}
}

func TestNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.TrueColor)

	theme := NewThemeFor(r, "dark")
	if theme.ColorProfile != termenv.Ascii {
		t.Errorf("ColorProfile = %v, want Ascii", theme.ColorProfile)
	}
}

func TestHeadingStyle(t *testing.T) {
	theme := NewThemeFor(asciiRenderer(), "dark")

	for level := 1; level <= 3; level++ {
		if got := theme.HeadingStyle(level).Render("H"); !strings.Contains(got, "H") {
			t.Errorf("HeadingStyle(%d) lost content: %q", level, got)
		}
	}
	if theme.HeadingStyle(9).Render("x") != theme.Heading3.Render("x") {
		t.Error("levels above 3 should use the level 3 style")
	}
}

func TestRoleLabel(t *testing.T) {
	theme := NewThemeFor(asciiRenderer(), "dark")

	tests := map[string]string{
		"user":      "You",
		"assistant": "Assistant",
		"system":    "System",
		"other":     "Assistant",
	}
	for role, want := range tests {
		if got := theme.RoleLabel(role); got != want {
			t.Errorf("RoleLabel(%q) = %q, want %q", role, got, want)
		}
	}
}
