// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"io"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/muesli/termenv"
)

// =============================================================================
// SYNTAX HIGHLIGHTING (Chroma-based)
// =============================================================================

// lexerFor picks a lexer by language tag, then by content analysis.
// The default "text" tag always goes to content analysis first.
func lexerFor(language, code string) chroma.Lexer {
	var lexer chroma.Lexer
	if language != "" && language != "text" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

func chromaStyle(name string) *chroma.Style {
	style := chromaStyles.Get(name)
	if style == nil {
		style = chromaStyles.Fallback
	}
	return style
}

// terminalFormatter maps a terminal color profile to a chroma formatter.
// It returns nil for the ASCII profile, where code is left uncolored.
func terminalFormatter(p termenv.Profile) chroma.Formatter {
	switch p {
	case termenv.TrueColor:
		return formatters.Get("terminal16m")
	case termenv.ANSI256:
		return formatters.Get("terminal256")
	case termenv.ANSI:
		return formatters.Get("terminal16")
	default:
		return nil
	}
}

func highlight(w io.Writer, formatter chroma.Formatter, styleName, language, code string) error {
	iterator, err := lexerFor(language, code).Tokenise(nil, code)
	if err != nil {
		return err
	}
	return formatter.Format(w, chromaStyle(styleName), iterator)
}
