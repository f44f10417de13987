// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styles used to draw rendered messages.
// All styles are bound to one lipgloss renderer so output can be pinned to
// a color profile (tests, pipes) independently of the process default.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	renderer *lipgloss.Renderer

	// ==========================================================================
	// BLOCK STYLES
	// ==========================================================================

	Heading1    lipgloss.Style
	Heading2    lipgloss.Style
	Heading3    lipgloss.Style
	Paragraph   lipgloss.Style
	ListMarker  lipgloss.Style
	Checked     lipgloss.Style
	Unchecked   lipgloss.Style
	Quote       lipgloss.Style
	CodeBox     lipgloss.Style
	CodeLabel   lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	TableRule   lipgloss.Style
	Divider     lipgloss.Style

	// ==========================================================================
	// INLINE STYLES
	// ==========================================================================

	Bold       lipgloss.Style
	Italic     lipgloss.Style
	InlineCode lipgloss.Style
	Link       lipgloss.Style
	LinkURL    lipgloss.Style

	// ==========================================================================
	// CHROME STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	Timestamp      lipgloss.Style
	StatusBar      lipgloss.Style
	ErrorText      lipgloss.Style
}

// NewTheme creates a theme on the default lipgloss renderer.
// mode is "dark", "light" or "auto" (detect from the terminal).
func NewTheme(mode string) *Theme {
	return NewThemeFor(lipgloss.DefaultRenderer(), mode)
}

// NewThemeFor creates a theme bound to r.
func NewThemeFor(r *lipgloss.Renderer, mode string) *Theme {
	if NoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	switch strings.ToLower(mode) {
	case "dark":
		r.SetHasDarkBackground(true)
	case "light":
		r.SetHasDarkBackground(false)
	}

	t := &Theme{
		IsDark:       r.HasDarkBackground(),
		ColorProfile: r.ColorProfile(),
		renderer:     r,
	}
	t.initStyles()
	return t
}

// PlainTheme returns a theme that emits no escape sequences.
func PlainTheme() *Theme {
	r := lipgloss.NewRenderer(os.Stdout)
	r.SetColorProfile(termenv.Ascii)
	return NewThemeFor(r, "dark")
}

// NoColor reports whether the user asked for colorless output via NO_COLOR.
func NoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// Renderer returns the lipgloss renderer the styles are bound to.
func (t *Theme) Renderer() *lipgloss.Renderer {
	return t.renderer
}

// NewStyle returns an empty style on the theme's renderer.
func (t *Theme) NewStyle() lipgloss.Style {
	return t.renderer.NewStyle()
}

func (t *Theme) initStyles() {
	s := t.renderer.NewStyle

	// Blocks
	t.Heading1 = s().Bold(true).Foreground(Purple).Underline(true)
	t.Heading2 = s().Bold(true).Foreground(Cyan)
	t.Heading3 = s().Bold(true).Foreground(TextSecondary)
	t.Paragraph = s().Foreground(TextPrimary)
	t.ListMarker = s().Foreground(Cyan)
	t.Checked = s().Foreground(Emerald)
	t.Unchecked = s().Foreground(TextMuted)
	t.Quote = s().
		Foreground(TextSecondary).
		Italic(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(OverlayDim).
		PaddingLeft(1)
	t.CodeBox = s().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.CodeLabel = s().Foreground(TextMuted).Italic(true)
	t.TableHeader = s().Bold(true).Foreground(TextSecondary)
	t.TableCell = s().Foreground(TextPrimary)
	t.TableRule = s().Foreground(Overlay)
	t.Divider = s().Foreground(Overlay)

	// Inline
	t.Bold = s().Bold(true)
	t.Italic = s().Italic(true)
	t.InlineCode = s().Foreground(Amber)
	t.Link = s().Foreground(LinkColor).Underline(true)
	t.LinkURL = s().Foreground(TextMuted)

	// Chrome
	t.UserLabel = s().Bold(true).Foreground(Cyan)
	t.AssistantLabel = s().Bold(true).Foreground(Purple)
	t.SystemLabel = s().Bold(true).Foreground(Amber)
	t.Timestamp = s().Foreground(TextMuted)
	t.StatusBar = s().Foreground(TextSecondary).Background(SurfaceDim).Padding(0, 1)
	t.ErrorText = s().Foreground(Rose).Bold(true)
}

// HeadingStyle returns the style for a heading level (1-3).
func (t *Theme) HeadingStyle(level int) lipgloss.Style {
	switch level {
	case 1:
		return t.Heading1
	case 2:
		return t.Heading2
	default:
		return t.Heading3
	}
}

// RoleLabel returns the styled speaker label for a chat role.
func (t *Theme) RoleLabel(role string) string {
	switch role {
	case "user":
		return t.UserLabel.Render("You")
	case "system":
		return t.SystemLabel.Render("System")
	default:
		return t.AssistantLabel.Render("Assistant")
	}
}
