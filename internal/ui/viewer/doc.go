// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package viewer is a read-only full-screen pager for a stored conversation.
//
// Messages are drawn by the terminal renderer into a bubbles viewport.
// The last code block in the conversation can be copied to the system
// clipboard with a single key.
package viewer
