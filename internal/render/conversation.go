// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/model"
)

// =============================================================================
// WHOLE CONVERSATIONS
// =============================================================================

// MessageJSON is a stored message together with its rendered blocks.
type MessageJSON struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	TokenCount int         `json:"token_count,omitempty"`
	Blocks     []BlockJSON `json:"blocks"`
}

// ConversationJSON is a conversation with every message rendered.
type ConversationJSON struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []MessageJSON `json:"messages"`
}

// EncodeMessage converts m to its wire form. c may be nil.
func EncodeMessage(m *model.Message, c *cache.Blocks) MessageJSON {
	return MessageJSON{
		ID:         m.ID,
		Role:       m.Role.String(),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		TokenCount: m.TokenCount,
		Blocks:     EncodeBlocks(m.Blocks(c)),
	}
}

// EncodeConversation converts conv to its wire form. c may be nil.
func EncodeConversation(conv *model.Conversation, c *cache.Blocks) ConversationJSON {
	out := ConversationJSON{
		ID:        conv.ID,
		Title:     conv.GetTitle(),
		Model:     conv.Model,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]MessageJSON, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		out.Messages = append(out.Messages, EncodeMessage(m, c))
	}
	return out
}

// Conversation draws every message under its role label, with timestamps
// relative to now. Messages are separated by a blank line.
func (t *Terminal) Conversation(conv *model.Conversation, c *cache.Blocks, now time.Time) (string, error) {
	var sb strings.Builder
	for i, msg := range conv.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(t.theme.RoleLabel(msg.Role.String()))
		if !msg.Timestamp.IsZero() {
			sb.WriteString("  ")
			sb.WriteString(t.theme.Timestamp.Render(FormatTimestamp(msg.Timestamp, now)))
		}
		sb.WriteByte('\n')

		body, err := t.Render(msg.Blocks(c))
		if err != nil {
			return "", fmt.Errorf("message %s: %w", msg.ID, err)
		}
		sb.WriteString(body)
	}
	return sb.String(), nil
}

// Conversation renders conv as a standalone HTML page.
func (h *HTML) Conversation(conv *model.Conversation, c *cache.Blocks) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(conv.GetTitle()))
	for _, m := range conv.Messages {
		body, err := h.Render(m.Blocks(c))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "<div class=\"message %s\">\n<div class=\"role\">%s</div>\n%s\n</div>\n",
			m.Role, html.EscapeString(m.Role.DisplayName()), body)
	}
	return Page(conv.GetTitle(), sb.String()), nil
}

// FormatTimestamp shows only the time for today, weekday and time within a
// week, and the date otherwise.
func FormatTimestamp(ts, now time.Time) string {
	switch {
	case ts.Year() == now.Year() && ts.YearDay() == now.YearDay():
		return ts.Format("15:04")
	case now.Sub(ts) < 7*24*time.Hour:
		return ts.Format("Mon 15:04")
	default:
		return ts.Format("Jan 2 15:04")
	}
}
