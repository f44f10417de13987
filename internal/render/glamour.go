// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	glamourStyles "github.com/charmbracelet/glamour/styles"

	"github.com/jeranaias/chatmark/internal/ui/styles"
)

// Glamour renders the raw message text with glamour's CommonMark renderer.
// It bypasses markup.Parse entirely and exists for side-by-side comparison.
type Glamour struct {
	tr *glamour.TermRenderer
}

// NewGlamour creates a glamour renderer. NO_COLOR selects the plain style;
// otherwise ThemeMode picks dark, light or auto detection.
func NewGlamour(opts Options) (*Glamour, error) {
	style := glamour.WithAutoStyle()
	switch {
	case styles.NoColor():
		style = glamour.WithStandardStyle(glamourStyles.NoTTYStyle)
	case strings.EqualFold(opts.ThemeMode, "dark"):
		style = glamour.WithStandardStyle(glamourStyles.DarkStyle)
	case strings.EqualFold(opts.ThemeMode, "light"):
		style = glamour.WithStandardStyle(glamourStyles.LightStyle)
	}

	width := opts.Width
	if width <= 0 {
		width = 80
	}
	tr, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("failed to create glamour renderer: %w", err)
	}
	return &Glamour{tr: tr}, nil
}

// Name implements RawRenderer.
func (g *Glamour) Name() string { return "glamour" }

// RenderRaw implements RawRenderer.
func (g *Glamour) RenderRaw(text string) (string, error) {
	out, err := g.tr.Render(text)
	if err != nil {
		return "", fmt.Errorf("glamour render failed: %w", err)
	}
	return out, nil
}
