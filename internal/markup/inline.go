// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"regexp"
	"strings"
)

// =============================================================================
// INLINE SPAN TYPES
// =============================================================================

// InlineSpan is one styled run of a line. The set of implementations is closed.
type InlineSpan interface {
	isSpan()
}

// PlainText is literal text.
type PlainText struct {
	Text string
}

// Bold is strong emphasis ("**x**" or "__x__").
type Bold struct {
	Text string
}

// Italic is emphasis ("*x*" or "_x_").
type Italic struct {
	Text string
}

// Code is inline code ("`x`").
type Code struct {
	Text string
}

// Link is "[label](url)".
type Link struct {
	Label string
	URL   string
}

func (PlainText) isSpan() {}
func (Bold) isSpan()      {}
func (Italic) isSpan()    {}
func (Code) isSpan()      {}
func (Link) isSpan()      {}

// =============================================================================
// INLINE FORMATTER
// =============================================================================

// inlinePattern alternatives are tried left to right at each position, so
// "**" wins over "*" and "__" over "_".
var inlinePattern = regexp.MustCompile(
	`\*\*(.+?)\*\*` +
		`|__(.+?)__` +
		`|\*(.+?)\*` +
		`|_(.+?)_` +
		"|`([^`]+)`" +
		`|\[([^\]]+)\]\(([^)]+)\)`,
)

// Submatch group numbers in inlinePattern.
const (
	groupBoldStar = 1 + iota
	groupBoldUnderscore
	groupItalicStar
	groupItalicUnderscore
	groupCode
	groupLinkLabel
	groupLinkURL
)

// FormatInline splits a line into spans. Delimiters are stripped and span
// contents are not parsed further. Text no pattern claims is PlainText.
func FormatInline(text string) []InlineSpan {
	var spans []InlineSpan
	pos := 0

	for _, m := range inlinePattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > pos {
			spans = append(spans, PlainText{Text: text[pos:m[0]]})
		}
		spans = append(spans, spanFor(text, m))
		pos = m[1]
	}

	if pos < len(text) {
		spans = append(spans, PlainText{Text: text[pos:]})
	}
	return spans
}

// spanFor builds the span for one match of inlinePattern.
func spanFor(text string, m []int) InlineSpan {
	group := func(n int) (string, bool) {
		if m[2*n] < 0 {
			return "", false
		}
		return text[m[2*n]:m[2*n+1]], true
	}

	if s, ok := group(groupBoldStar); ok {
		return Bold{Text: s}
	}
	if s, ok := group(groupBoldUnderscore); ok {
		return Bold{Text: s}
	}
	if s, ok := group(groupItalicStar); ok {
		return Italic{Text: s}
	}
	if s, ok := group(groupItalicUnderscore); ok {
		return Italic{Text: s}
	}
	if s, ok := group(groupCode); ok {
		return Code{Text: s}
	}
	label, _ := group(groupLinkLabel)
	url, _ := group(groupLinkURL)
	return Link{Label: label, URL: strings.TrimSpace(url)}
}

// SpanText flattens spans back to their visible text. Links contribute
// their label.
func SpanText(spans []InlineSpan) string {
	var sb strings.Builder
	for _, s := range spans {
		switch s := s.(type) {
		case PlainText:
			sb.WriteString(s.Text)
		case Bold:
			sb.WriteString(s.Text)
		case Italic:
			sb.WriteString(s.Text)
		case Code:
			sb.WriteString(s.Text)
		case Link:
			sb.WriteString(s.Label)
		default:
			panic("markup: unknown span type")
		}
	}
	return sb.String()
}

// SpanKind returns a stable lowercase tag for the span's variant.
func SpanKind(s InlineSpan) string {
	switch s.(type) {
	case PlainText:
		return "text"
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	case Code:
		return "code"
	case Link:
		return "link"
	default:
		panic("markup: unknown span type")
	}
}
