// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/jeranaias/chatmark/internal/markup"
	"github.com/jeranaias/chatmark/internal/ui/styles"
	"github.com/jeranaias/chatmark/internal/util"
)

// =============================================================================
// TERMINAL RENDERER
// =============================================================================

const (
	defaultDividerWidth = 40
	checkedMark         = "☑"
	uncheckedMark       = "☐"
)

var numberedItemPattern = regexp.MustCompile(`^(\d+[.)])\s+(.*)$`)

// splitNumbered splits "3. text" into "3." and "text". Items without a
// marker come back whole as the body.
func splitNumbered(item string) (marker, body string, ok bool) {
	m := numberedItemPattern.FindStringSubmatch(item)
	if m == nil {
		return "", item, false
	}
	return m[1], m[2], true
}

// bulletBody drops the normalised "• " marker.
func bulletBody(item string) string {
	return strings.TrimPrefix(item, "• ")
}

// Terminal renders blocks as styled ANSI text.
type Terminal struct {
	width     int
	codeStyle string
	theme     *styles.Theme
}

// NewTerminal creates a terminal renderer.
func NewTerminal(opts Options) *Terminal {
	return &Terminal{
		width:     opts.Width,
		codeStyle: opts.codeStyle(),
		theme:     opts.theme(),
	}
}

// Name implements Renderer.
func (t *Terminal) Name() string { return "terminal" }

// SetWidth changes the wrap width, e.g. after a terminal resize.
func (t *Terminal) SetWidth(width int) { t.width = width }

// Render implements Renderer. Blocks are separated by a blank line.
func (t *Terminal) Render(blocks []markup.Block) (string, error) {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, t.block(b))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (t *Terminal) block(b markup.Block) string {
	th := t.theme
	switch b := b.(type) {
	case markup.Heading:
		return t.wrap(t.inline(b.Text, th.HeadingStyle(b.Level)))
	case markup.Paragraph:
		return t.wrap(t.inline(b.Text, th.Paragraph))
	case markup.NumberedList:
		lines := make([]string, len(b.Items))
		for i, item := range b.Items {
			marker, body, ok := splitNumbered(item)
			if !ok {
				marker, body = item, ""
			}
			lines[i] = t.hanging(th.ListMarker.Render(marker)+" ", util.DisplayWidth(marker)+1, t.inline(body, th.Paragraph))
		}
		return strings.Join(lines, "\n")
	case markup.BulletList:
		lines := make([]string, len(b.Items))
		for i, item := range b.Items {
			body := bulletBody(item)
			lines[i] = t.hanging(th.ListMarker.Render("•")+" ", 2, t.inline(body, th.Paragraph))
		}
		return strings.Join(lines, "\n")
	case markup.ChecklistItem:
		mark, style := uncheckedMark, th.Unchecked
		if b.Checked() {
			mark, style = checkedMark, th.Checked
		}
		return t.hanging(style.Render(mark)+" ", util.DisplayWidth(mark)+1, t.inline(b.Label(), th.Paragraph))
	case markup.Blockquote:
		body := t.inline(b.Text, th.NewStyle())
		if t.width > 2 {
			body = ansi.Wrap(body, t.width-2, "")
		}
		return th.Quote.Render(body)
	case markup.CodeBlock:
		return t.code(b)
	case markup.Table:
		return t.table(b)
	case markup.Divider:
		width := t.width
		if width <= 0 {
			width = defaultDividerWidth
		}
		return th.Divider.Render(strings.Repeat("─", width))
	default:
		panic(fmt.Sprintf("render: unknown block type %T", b))
	}
}

// inline renders prose with span styles layered over base.
func (t *Terminal) inline(text string, base lipgloss.Style) string {
	th := t.theme
	var sb strings.Builder
	for _, span := range markup.FormatInline(text) {
		switch s := span.(type) {
		case markup.PlainText:
			sb.WriteString(base.Render(s.Text))
		case markup.Bold:
			sb.WriteString(th.Bold.Inherit(base).Render(s.Text))
		case markup.Italic:
			sb.WriteString(th.Italic.Inherit(base).Render(s.Text))
		case markup.Code:
			sb.WriteString(th.InlineCode.Inherit(base).Render(s.Text))
		case markup.Link:
			sb.WriteString(th.Link.Render(s.Label))
			sb.WriteString(th.LinkURL.Render(linkSuffix(s.URL)))
		default:
			panic(fmt.Sprintf("render: unknown span type %T", s))
		}
	}
	return sb.String()
}

// linkSuffix is what inline prints after a link label.
func linkSuffix(url string) string {
	return " (" + url + ")"
}

// cellWidth is the display width of cell as inline prints it.
func cellWidth(cell string) int {
	spans := markup.FormatInline(cell)
	w := util.DisplayWidth(markup.SpanText(spans))
	for _, span := range spans {
		if link, ok := span.(markup.Link); ok {
			w += util.DisplayWidth(linkSuffix(link.URL))
		}
	}
	return w
}

func (t *Terminal) wrap(s string) string {
	if t.width <= 0 {
		return s
	}
	return ansi.Wrap(s, t.width, "")
}

// hanging wraps body so continuation lines align after prefix.
func (t *Terminal) hanging(prefix string, prefixWidth int, body string) string {
	if t.width <= prefixWidth+1 {
		return prefix + body
	}
	lines := strings.Split(ansi.Wrap(body, t.width-prefixWidth, ""), "\n")
	indent := strings.Repeat(" ", prefixWidth)
	for i := range lines {
		if i == 0 {
			lines[i] = prefix + lines[i]
		} else {
			lines[i] = indent + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func (t *Terminal) code(b markup.CodeBlock) string {
	th := t.theme
	body := b.Code
	if formatter := terminalFormatter(th.ColorProfile); formatter != nil && body != "" {
		var sb strings.Builder
		if err := highlight(&sb, formatter, t.codeStyle, b.Language, b.Code); err == nil {
			body = strings.TrimSuffix(sb.String(), "\n")
		}
	}
	return th.CodeLabel.Render(b.Language) + "\n" + th.CodeBox.Render(body)
}

func (t *Terminal) table(b markup.Table) string {
	th := t.theme
	cols := b.Columns()
	widths := make([]int, cols)
	for _, row := range b.Rows {
		for i, cell := range row.Cells {
			if w := cellWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	sep := th.TableRule.Render(" │ ")
	var lines []string
	for _, row := range b.Rows {
		base := th.TableCell
		if row.IsHeader {
			base = th.TableHeader
		}
		cells := make([]string, cols)
		for i := 0; i < cols; i++ {
			var cell string
			if i < len(row.Cells) {
				cell = row.Cells[i]
			}
			cells[i] = t.inline(cell, base) + strings.Repeat(" ", widths[i]-cellWidth(cell))
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, sep), " "))

		if row.IsHeader {
			rules := make([]string, cols)
			for i, w := range widths {
				rules[i] = strings.Repeat("─", w)
			}
			lines = append(lines, th.TableRule.Render(strings.Join(rules, "─┼─")))
		}
	}
	return strings.Join(lines, "\n")
}
