// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import "strings"

// =============================================================================
// BLOCK TYPES
// =============================================================================

// Block is one structural unit of a parsed message.
// The set of implementations is closed; switch on the concrete type.
type Block interface {
	isBlock()
}

// Heading is a title line. Level is 1, 2 or 3.
type Heading struct {
	Level int
	Text  string
}

// Paragraph is a single line of prose.
type Paragraph struct {
	Text string
}

// NumberedList is a run of "N. text" lines, numbering kept as written.
type NumberedList struct {
	Items []string
}

// BulletList is a run of bullet lines, each normalised to "• text".
type BulletList struct {
	Items []string
}

// ChecklistItem is a single "[ ] task" or "[x] task" line.
type ChecklistItem struct {
	Line string
}

// Blockquote is a single "> text" line with the marker removed.
type Blockquote struct {
	Text string
}

// CodeBlock is a fenced region. Code holds the lines between the fences verbatim.
type CodeBlock struct {
	Language string
	Code     string
}

// Table is a run of pipe-delimited rows.
type Table struct {
	Rows []TableRow
}

// TableRow is one table line split into trimmed cells.
type TableRow struct {
	Cells    []string
	IsHeader bool
}

// Divider is a horizontal rule ("---").
type Divider struct{}

func (Heading) isBlock()       {}
func (Paragraph) isBlock()     {}
func (NumberedList) isBlock()  {}
func (BulletList) isBlock()    {}
func (ChecklistItem) isBlock() {}
func (Blockquote) isBlock()    {}
func (CodeBlock) isBlock()     {}
func (Table) isBlock()         {}
func (Divider) isBlock()       {}

// =============================================================================
// BLOCK HELPERS
// =============================================================================

// Checked reports whether the item is ticked ("[x]").
func (c ChecklistItem) Checked() bool {
	m := checklistPattern.FindStringSubmatch(c.Line)
	return len(m) == 2 && m[1] == "x"
}

// Label returns the task text without the checkbox marker.
func (c ChecklistItem) Label() string {
	loc := checklistPattern.FindStringIndex(c.Line)
	if loc == nil {
		return strings.TrimSpace(c.Line)
	}
	return strings.TrimSpace(c.Line[loc[1]:])
}

// Header returns the header rows of the table.
func (t Table) Header() []TableRow {
	var rows []TableRow
	for _, r := range t.Rows {
		if r.IsHeader {
			rows = append(rows, r)
		}
	}
	return rows
}

// Columns returns the widest row's cell count.
func (t Table) Columns() int {
	n := 0
	for _, r := range t.Rows {
		if len(r.Cells) > n {
			n = len(r.Cells)
		}
	}
	return n
}

// Kind returns a stable lowercase tag for the block's variant.
func Kind(b Block) string {
	switch b.(type) {
	case Heading:
		return "heading"
	case Paragraph:
		return "paragraph"
	case NumberedList:
		return "numbered_list"
	case BulletList:
		return "bullet_list"
	case ChecklistItem:
		return "checklist_item"
	case Blockquote:
		return "blockquote"
	case CodeBlock:
		return "code_block"
	case Table:
		return "table"
	case Divider:
		return "divider"
	default:
		panic("markup: unknown block type")
	}
}

// ProseText returns the texts of b that carry inline formatting.
// Code blocks, tables and dividers have none.
func ProseText(b Block) []string {
	switch b := b.(type) {
	case Heading:
		return []string{b.Text}
	case Paragraph:
		return []string{b.Text}
	case Blockquote:
		return []string{b.Text}
	case ChecklistItem:
		return []string{b.Label()}
	case NumberedList:
		return b.Items
	case BulletList:
		return b.Items
	case CodeBlock, Table, Divider:
		return nil
	default:
		panic("markup: unknown block type")
	}
}
