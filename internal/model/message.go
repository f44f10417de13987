// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/markup"
	"github.com/jeranaias/chatmark/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Blocks returns the message as renderable blocks. Only assistant replies
// go through the structured parser; user and system text is shown as one
// paragraph. c may be nil.
func (m *Message) Blocks(c *cache.Blocks) []markup.Block {
	if strings.TrimSpace(m.Content) == "" {
		return nil
	}
	if m.Role != RoleAssistant {
		return []markup.Block{markup.Paragraph{Text: strings.TrimSpace(m.Content)}}
	}
	text := util.Normalize(m.Content)
	if c != nil {
		return c.Parse(text)
	}
	return markup.Parse(text)
}

// Preview returns the first line of the content, truncated to maxLen runes.
func (m *Message) Preview(maxLen int) string {
	content := strings.TrimSpace(m.Content)
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	return util.TruncateRunes(content, maxLen)
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// EstimateTokens returns the stored token count, or a rough 4 chars/token
// estimate when the backend did not report one.
func (m *Message) EstimateTokens() int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return (len(m.Content) + 3) / 4
}

func generateID() string {
	return "msg_" + uuid.New().String()
}
