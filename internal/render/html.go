// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"

	"github.com/jeranaias/chatmark/internal/markup"
)

// =============================================================================
// HTML RENDERER
// =============================================================================

// HTML renders blocks as an HTML fragment. All message text is escaped.
type HTML struct {
	codeStyle string
	formatter *chromahtml.Formatter
}

// NewHTML creates an HTML renderer. Code blocks use inline styles so the
// fragment needs no stylesheet.
func NewHTML(opts Options) *HTML {
	return &HTML{
		codeStyle: opts.codeStyle(),
		formatter: chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4)),
	}
}

// Name implements Renderer.
func (h *HTML) Name() string { return "html" }

// Render implements Renderer.
func (h *HTML) Render(blocks []markup.Block) (string, error) {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		h.block(&sb, b)
	}
	return sb.String(), nil
}

func (h *HTML) block(sb *strings.Builder, b markup.Block) {
	switch b := b.(type) {
	case markup.Heading:
		fmt.Fprintf(sb, "<h%d>%s</h%d>", b.Level, inlineHTML(b.Text), b.Level)
	case markup.Paragraph:
		fmt.Fprintf(sb, "<p>%s</p>", inlineHTML(b.Text))
	case markup.NumberedList:
		sb.WriteString("<ol>")
		for _, item := range b.Items {
			if marker, body, ok := splitNumbered(item); ok {
				n := strings.TrimRight(marker, ".)")
				fmt.Fprintf(sb, `<li value="%s">%s</li>`, n, inlineHTML(body))
			} else {
				fmt.Fprintf(sb, "<li>%s</li>", inlineHTML(item))
			}
		}
		sb.WriteString("</ol>")
	case markup.BulletList:
		sb.WriteString("<ul>")
		for _, item := range b.Items {
			fmt.Fprintf(sb, "<li>%s</li>", inlineHTML(bulletBody(item)))
		}
		sb.WriteString("</ul>")
	case markup.ChecklistItem:
		checked := ""
		if b.Checked() {
			checked = " checked"
		}
		fmt.Fprintf(sb, `<div class="check"><input type="checkbox" disabled%s> %s</div>`, checked, inlineHTML(b.Label()))
	case markup.Blockquote:
		fmt.Fprintf(sb, "<blockquote>%s</blockquote>", inlineHTML(b.Text))
	case markup.CodeBlock:
		h.code(sb, b)
	case markup.Table:
		h.table(sb, b)
	case markup.Divider:
		sb.WriteString("<hr>")
	default:
		panic(fmt.Sprintf("render: unknown block type %T", b))
	}
}

func (h *HTML) code(sb *strings.Builder, b markup.CodeBlock) {
	fmt.Fprintf(sb, `<div class="code" data-lang="%s">`, html.EscapeString(b.Language))
	var hl strings.Builder
	if err := highlight(&hl, h.formatter, h.codeStyle, b.Language, b.Code); err != nil {
		fmt.Fprintf(sb, "<pre><code>%s</code></pre>", html.EscapeString(b.Code))
	} else {
		sb.WriteString(hl.String())
	}
	sb.WriteString("</div>")
}

func (h *HTML) table(sb *strings.Builder, b markup.Table) {
	cols := b.Columns()
	sb.WriteString("<table>")
	inBody := false
	for _, row := range b.Rows {
		tag := "td"
		if row.IsHeader {
			tag = "th"
			sb.WriteString("<thead>")
		} else if !inBody {
			sb.WriteString("<tbody>")
			inBody = true
		}
		sb.WriteString("<tr>")
		for i := 0; i < cols; i++ {
			var cell string
			if i < len(row.Cells) {
				cell = row.Cells[i]
			}
			fmt.Fprintf(sb, "<%s>%s</%s>", tag, inlineHTML(cell), tag)
		}
		sb.WriteString("</tr>")
		if row.IsHeader {
			sb.WriteString("</thead>")
		}
	}
	if inBody {
		sb.WriteString("</tbody>")
	}
	sb.WriteString("</table>")
}

// inlineHTML renders prose spans. Link targets outside http, https and
// mailto are dropped and only the label is kept.
func inlineHTML(text string) string {
	var sb strings.Builder
	for _, span := range markup.FormatInline(text) {
		switch s := span.(type) {
		case markup.PlainText:
			sb.WriteString(html.EscapeString(s.Text))
		case markup.Bold:
			sb.WriteString("<strong>" + html.EscapeString(s.Text) + "</strong>")
		case markup.Italic:
			sb.WriteString("<em>" + html.EscapeString(s.Text) + "</em>")
		case markup.Code:
			sb.WriteString("<code>" + html.EscapeString(s.Text) + "</code>")
		case markup.Link:
			if !SafeURL(s.URL) {
				sb.WriteString(html.EscapeString(s.Label))
				continue
			}
			fmt.Fprintf(&sb, `<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
				html.EscapeString(s.URL), html.EscapeString(s.Label))
		default:
			panic(fmt.Sprintf("render: unknown span type %T", s))
		}
	}
	return sb.String()
}

// SafeURL reports whether u may be emitted as a link target.
func SafeURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.Host != ""
	case "mailto":
		return parsed.Opaque != ""
	default:
		return false
	}
}

// =============================================================================
// PAGE WRAPPER
// =============================================================================

const pageCSS = `:root{color-scheme:light dark;--fg:#1F2937;--muted:#6B7280;--rule:#E5E5E5;--accent:#7C3AED;--link:#2563EB;--code-bg:#F5F5F5}
@media (prefers-color-scheme:dark){:root{--fg:#CDD6F4;--muted:#A6ADC8;--rule:#313244;--accent:#A78BFA;--link:#60A5FA;--code-bg:#181825}}
body{font-family:system-ui,sans-serif;line-height:1.5;color:var(--fg);max-width:52rem;margin:2rem auto;padding:0 1rem}
h1,h2,h3{color:var(--accent)}
a{color:var(--link)}
blockquote{border-left:3px solid var(--rule);margin:0;padding-left:1rem;color:var(--muted);font-style:italic}
code{background:var(--code-bg);padding:0 .25rem;border-radius:3px}
.code{position:relative;margin:1rem 0}
.code pre{padding:.75rem;border-radius:6px;overflow-x:auto}
.code[data-lang]::before{content:attr(data-lang);position:absolute;right:.5rem;top:.25rem;font-size:.75rem;color:var(--muted)}
table{border-collapse:collapse}
th,td{border:1px solid var(--rule);padding:.25rem .5rem;text-align:left}
hr{border:none;border-top:1px solid var(--rule)}
.message{border-bottom:1px solid var(--rule);padding:1rem 0}
.role{font-weight:bold;color:var(--muted);text-transform:uppercase;font-size:.8rem}`

// Page wraps a rendered fragment in a standalone HTML document.
func Page(title, fragment string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n<style>\n%s\n</style>\n</head>\n<body>\n", html.EscapeString(title), pageCSS)
	sb.WriteString(fragment)
	sb.WriteString("\n</body>\n</html>\n")
	return sb.String()
}
