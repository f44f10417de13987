// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: A chat session with messages and metadata
//   - Message: Single message with role, content and timestamp
//   - ConversationMeta: Lightweight listing record
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
//	conv := model.NewConversation("gpt-4o-mini")
//	conv.AddUserMessage("How do I install it?")
//	conv.AddAssistantMessage(reply)
//	blocks := conv.LastAssistant().Blocks(blockCache)
package model
