// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// PATTERNS
// =============================================================================

// PERFORMANCE: Pre-compiled regex (compiled once at startup)
var (
	dividerPattern        = regexp.MustCompile(`^-{3,}$`)
	checklistPattern      = regexp.MustCompile(`^\s*\[([ x])\]\s+`)
	numberedPattern       = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	bulletPattern         = regexp.MustCompile(`^\s*[•\-*]\s+`)
	atxHeadingPattern     = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	atxClosingPattern     = regexp.MustCompile(`\s+#+$`)
	tableSeparatorPattern = regexp.MustCompile(`^[-:| ]+$`)
)

const (
	codeFence       = "```"
	defaultLanguage = "text"
	quotePrefix     = "> "
	bulletMarker    = "• "
	maxHeadingLevel = 3
)

// sectionKeywords open a level-2 heading regardless of trailing punctuation.
var sectionKeywords = []string{
	"ringkasan",
	"langkah",
	"catatan",
	"kesimpulan",
	"tujuan",
	"hasil",
}

// =============================================================================
// PARSER
// =============================================================================

// Parse converts raw assistant text into blocks in document order.
// It never fails: any line no rule claims becomes a Paragraph.
func Parse(text string) []Block {
	if text == "" {
		return nil
	}
	lines := splitLines(text)

	var blocks []Block
	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			i++
			continue
		}

		if dividerPattern.MatchString(trimmed) {
			blocks = append(blocks, Divider{})
			i++
			continue
		}

		if strings.HasPrefix(trimmed, codeFence) {
			code, next := parseCodeBlock(lines, i)
			blocks = append(blocks, code)
			i = next
			continue
		}

		if strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), quotePrefix) {
			quoted := strings.TrimPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), quotePrefix)
			blocks = append(blocks, Blockquote{Text: strings.TrimSpace(quoted)})
			i++
			continue
		}

		if isTableRow(trimmed) {
			table, next := parseTable(lines, i)
			blocks = append(blocks, table)
			i = next
			continue
		}

		if checklistPattern.MatchString(line) {
			blocks = append(blocks, ChecklistItem{Line: trimmed})
			i++
			continue
		}

		if numberedPattern.MatchString(line) {
			items, next := collectRun(lines, i, numberedPattern, strings.TrimSpace)
			blocks = append(blocks, NumberedList{Items: items})
			i = next
			continue
		}

		if bulletPattern.MatchString(line) {
			items, next := collectRun(lines, i, bulletPattern, normalizeBullet)
			blocks = append(blocks, BulletList{Items: items})
			i = next
			continue
		}

		if heading, ok := parseATXHeading(trimmed); ok {
			blocks = append(blocks, heading)
			i++
			continue
		}

		if isAllCaps(trimmed) {
			blocks = append(blocks, Heading{Level: 1, Text: trimmed})
			i++
			continue
		}

		if isSubheading(trimmed) {
			blocks = append(blocks, Heading{Level: 2, Text: trimmed})
			i++
			continue
		}

		blocks = append(blocks, Paragraph{Text: trimmed})
		i++
	}

	return blocks
}

// splitLines splits on "\n" and drops a trailing "\r" from each line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// =============================================================================
// BLOCK RULES
// =============================================================================

// parseCodeBlock reads a fenced region starting at the opening fence.
// An unterminated fence runs to the end of input.
func parseCodeBlock(lines []string, start int) (CodeBlock, int) {
	opening := strings.TrimSpace(lines[start])
	language := strings.TrimSpace(strings.TrimPrefix(opening, codeFence))
	if language == "" {
		language = defaultLanguage
	}

	var body []string
	i := start + 1
	for i < len(lines) {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), codeFence) {
			return CodeBlock{Language: language, Code: strings.Join(body, "\n")}, i + 1
		}
		body = append(body, lines[i])
		i++
	}
	return CodeBlock{Language: language, Code: strings.Join(body, "\n")}, i
}

func isTableRow(trimmed string) bool {
	return len(trimmed) >= 2 && strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

// parseTable absorbs consecutive pipe rows. The first row is the header;
// separator rows after it are dropped.
func parseTable(lines []string, start int) (Table, int) {
	var table Table
	i := start
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if !isTableRow(trimmed) {
			break
		}
		first := i == start
		if !first && tableSeparatorPattern.MatchString(trimmed) {
			i++
			continue
		}
		table.Rows = append(table.Rows, TableRow{
			Cells:    splitCells(trimmed),
			IsHeader: first,
		})
		i++
	}
	return table, i
}

func splitCells(row string) []string {
	inner := row[1 : len(row)-1]
	cells := strings.Split(inner, "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// collectRun gathers consecutive lines matching pattern, starting at start.
func collectRun(lines []string, start int, pattern *regexp.Regexp, item func(string) string) ([]string, int) {
	var items []string
	i := start
	for i < len(lines) && pattern.MatchString(lines[i]) {
		items = append(items, item(lines[i]))
		i++
	}
	return items, i
}

// normalizeBullet rewrites "- x", "* x" and "• x" to "• x".
func normalizeBullet(line string) string {
	loc := bulletPattern.FindStringIndex(line)
	return bulletMarker + strings.TrimSpace(line[loc[1]:])
}

func parseATXHeading(trimmed string) (Heading, bool) {
	m := atxHeadingPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Heading{}, false
	}
	level := len(m[1])
	if level > maxHeadingLevel {
		level = maxHeadingLevel
	}
	text := strings.TrimSpace(atxClosingPattern.ReplaceAllString(m[2], ""))
	return Heading{Level: level, Text: text}, true
}

// isAllCaps reports whether the line is a shouted title: longer than three
// characters, at least one letter, and unchanged by upper-casing.
func isAllCaps(trimmed string) bool {
	if utf8.RuneCountInString(trimmed) <= 3 {
		return false
	}
	if strings.ToUpper(trimmed) != trimmed {
		return false
	}
	return strings.IndexFunc(trimmed, unicode.IsLetter) >= 0
}

func isSubheading(trimmed string) bool {
	if strings.HasSuffix(trimmed, ":") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range sectionKeywords {
		if strings.HasPrefix(lower, kw) {
			return true
		}
	}
	return false
}
