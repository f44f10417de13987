// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package viewer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/chatmark/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := "New Conversation"
	detail := ""
	if m.conv != nil {
		title = m.conv.GetTitle()
		detail = fmt.Sprintf("%d messages", len(m.conv.Messages))
		if m.conv.Model != "" {
			detail = m.conv.Model + " · " + detail
		}
	}
	titleWidth := max(m.width-util.DisplayWidth(detail)-2, 1)
	left := m.theme.Heading1.Render(util.TruncateWidth(title, titleWidth))
	right := m.theme.Timestamp.Render(detail)
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	rule := m.theme.Divider.Render(strings.Repeat("─", m.width))
	return left + spaces(gap) + right + "\n" + rule
}

func (m Model) renderStatusBar() string {
	left := m.status
	if m.isError {
		left = m.theme.ErrorText.Render(left)
	}
	help := helpLine(m.keys.ShortHelp())
	if m.showHelp {
		all := m.keys.FullHelp()
		help = helpLine(append(all[0], all[1]...))
	}
	right := fmt.Sprintf("%3.f%%", m.viewport.ScrollPercent()*100)

	inner := max(m.width-2, 1)
	avail := max(inner-lipgloss.Width(left)-util.DisplayWidth(right)-2, 0)
	middle := util.TruncateWidth(help, avail)
	gap := max(inner-lipgloss.Width(left)-util.DisplayWidth(middle)-util.DisplayWidth(right), 1)

	line := left
	if left != "" {
		line += " "
		gap = max(gap-1, 1)
	}
	line += middle + spaces(gap) + right
	return m.theme.StatusBar.Width(m.width).MaxWidth(m.width).Render(line)
}

func spaces(n int) string {
	return strings.Repeat(" ", max(n, 0))
}
