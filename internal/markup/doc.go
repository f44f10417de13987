// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markup turns raw assistant text into typed content blocks.
//
// The text an AI model returns mixes a loose, line-oriented subset of Markdown
// with conventions of its own (ALL-CAPS titles, "Ringkasan:" style section
// labels, "•" bullets). This package parses that subset deterministically.
// It performs no I/O and keeps no state; every function is safe for
// concurrent use.
//
// # Key Types
//
//   - Block: one structural unit (Heading, Paragraph, NumberedList,
//     BulletList, ChecklistItem, Blockquote, CodeBlock, Table, Divider)
//   - InlineSpan: one styled run of a line (PlainText, Bold, Italic, Code, Link)
//
// # Usage
//
// Parse a message and format prose inline:
//
//	for _, b := range markup.Parse(text) {
//	    for _, line := range markup.ProseText(b) {
//	        spans := markup.FormatInline(line)
//	        _ = spans
//	    }
//	}
//
// Neither Parse nor FormatInline can fail. Lines matching no rule become
// paragraphs, unmatched delimiters stay plain text, and an unterminated code
// fence swallows the rest of the input.
package markup
