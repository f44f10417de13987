// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/chatmark/internal/markup"
)

// =============================================================================
// JSON ENCODING
// =============================================================================

// SpanJSON is the wire form of an inline span.
type SpanJSON struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// RowJSON is the wire form of a table row.
type RowJSON struct {
	Cells    []string     `json:"cells"`
	IsHeader bool         `json:"header,omitempty"`
	Spans    [][]SpanJSON `json:"spans"`
}

// BlockJSON is the wire form of a block. Prose blocks carry their inline
// spans so clients do not need to run the inline formatter.
type BlockJSON struct {
	Type      string       `json:"type"`
	Level     int          `json:"level,omitempty"`
	Text      string       `json:"text,omitempty"`
	Spans     []SpanJSON   `json:"spans,omitempty"`
	Items     []string     `json:"items,omitempty"`
	ItemSpans [][]SpanJSON `json:"item_spans,omitempty"`
	Checked   *bool        `json:"checked,omitempty"`
	Language  string       `json:"language,omitempty"`
	Code      *string      `json:"code,omitempty"`
	Rows      []RowJSON    `json:"rows,omitempty"`
}

// EncodeBlocks converts blocks to their wire form. It never returns nil.
func EncodeBlocks(blocks []markup.Block) []BlockJSON {
	out := make([]BlockJSON, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, encodeBlock(b))
	}
	return out
}

func encodeBlock(b markup.Block) BlockJSON {
	bj := BlockJSON{Type: markup.Kind(b)}
	switch b := b.(type) {
	case markup.Heading:
		bj.Level = b.Level
		bj.Text = b.Text
		bj.Spans = EncodeSpans(markup.FormatInline(b.Text))
	case markup.Paragraph:
		bj.Text = b.Text
		bj.Spans = EncodeSpans(markup.FormatInline(b.Text))
	case markup.NumberedList:
		bj.Items = b.Items
		bj.ItemSpans = itemSpans(b.Items, func(item string) string {
			_, body, _ := splitNumbered(item)
			return body
		})
	case markup.BulletList:
		bj.Items = b.Items
		bj.ItemSpans = itemSpans(b.Items, bulletBody)
	case markup.ChecklistItem:
		checked := b.Checked()
		bj.Checked = &checked
		bj.Text = b.Label()
		bj.Spans = EncodeSpans(markup.FormatInline(b.Label()))
	case markup.Blockquote:
		bj.Text = b.Text
		bj.Spans = EncodeSpans(markup.FormatInline(b.Text))
	case markup.CodeBlock:
		code := b.Code
		bj.Language = b.Language
		bj.Code = &code
	case markup.Table:
		bj.Rows = make([]RowJSON, len(b.Rows))
		for i, row := range b.Rows {
			spans := make([][]SpanJSON, len(row.Cells))
			for j, cell := range row.Cells {
				spans[j] = EncodeSpans(markup.FormatInline(cell))
			}
			bj.Rows[i] = RowJSON{Cells: row.Cells, IsHeader: row.IsHeader, Spans: spans}
		}
	case markup.Divider:
	default:
		panic(fmt.Sprintf("render: unknown block type %T", b))
	}
	return bj
}

// itemSpans formats list items without their markers; Items keeps them.
func itemSpans(items []string, body func(string) string) [][]SpanJSON {
	out := make([][]SpanJSON, len(items))
	for i, item := range items {
		out[i] = EncodeSpans(markup.FormatInline(body(item)))
	}
	return out
}

// EncodeSpans converts inline spans to their wire form.
func EncodeSpans(spans []markup.InlineSpan) []SpanJSON {
	out := make([]SpanJSON, 0, len(spans))
	for _, span := range spans {
		sj := SpanJSON{Type: markup.SpanKind(span)}
		switch s := span.(type) {
		case markup.PlainText:
			sj.Text = s.Text
		case markup.Bold:
			sj.Text = s.Text
		case markup.Italic:
			sj.Text = s.Text
		case markup.Code:
			sj.Text = s.Text
		case markup.Link:
			sj.Text = s.Label
			sj.URL = s.URL
		default:
			panic(fmt.Sprintf("render: unknown span type %T", s))
		}
		out = append(out, sj)
	}
	return out
}

// =============================================================================
// JSON RENDERER
// =============================================================================

// JSON renders blocks as an indented JSON array.
type JSON struct{}

// NewJSON creates a JSON renderer.
func NewJSON() *JSON { return &JSON{} }

// Name implements Renderer.
func (j *JSON) Name() string { return "json" }

// Render implements Renderer.
func (j *JSON) Render(blocks []markup.Block) (string, error) {
	data, err := json.MarshalIndent(EncodeBlocks(blocks), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode blocks: %w", err)
	}
	return string(data), nil
}
