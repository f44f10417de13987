// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/markup"
	"github.com/jeranaias/chatmark/internal/ui/styles"
	"github.com/jeranaias/chatmark/internal/util"
)

// ErrUnknownRenderer is returned by New for an unsupported format name.
var ErrUnknownRenderer = errors.New("unknown renderer")

// Renderer draws a block sequence.
type Renderer interface {
	Render(blocks []markup.Block) (string, error)
	Name() string
}

// RawRenderer draws raw message text without going through markup.Parse.
type RawRenderer interface {
	RenderRaw(text string) (string, error)
	Name() string
}

// Options configures the renderers. Zero values pick defaults.
type Options struct {
	// Width wraps prose; 0 disables wrapping.
	Width int

	// CodeStyle is a chroma style name.
	CodeStyle string

	// ThemeMode is "auto", "dark" or "light"; used when Theme is nil.
	ThemeMode string

	// Theme overrides the terminal styles.
	Theme *styles.Theme
}

const defaultCodeStyle = "monokai"

func (o Options) codeStyle() string {
	if o.CodeStyle == "" {
		return defaultCodeStyle
	}
	return o.CodeStyle
}

func (o Options) theme() *styles.Theme {
	if o.Theme != nil {
		return o.Theme
	}
	return styles.NewTheme(o.ThemeMode)
}

// Formats lists the names accepted by New.
var Formats = []string{"terminal", "html", "json"}

// New returns the renderer registered under name.
func New(name string, opts Options) (Renderer, error) {
	switch strings.ToLower(name) {
	case "terminal":
		return NewTerminal(opts), nil
	case "html":
		return NewHTML(opts), nil
	case "json":
		return NewJSON(), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownRenderer, name, strings.Join(Formats, ", "))
	}
}

// Message normalises text, parses it through c (or directly when c is nil)
// and renders the result.
func Message(r Renderer, c *cache.Blocks, text string) (string, error) {
	text = util.Normalize(text)
	var blocks []markup.Block
	if c != nil {
		blocks = c.Parse(text)
	} else {
		blocks = markup.Parse(text)
	}
	out, err := r.Render(blocks)
	if err != nil {
		return "", fmt.Errorf("%s render failed: %w", r.Name(), err)
	}
	return out, nil
}
