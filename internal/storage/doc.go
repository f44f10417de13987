// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation history in SQLite.
//
// The database is opened with the pure-Go modernc.org/sqlite driver in WAL
// mode with foreign keys on, so deleting a conversation removes its
// messages. A single connection serialises writers.
//
// # Key Types
//
//   - Store: conversation and message persistence
//   - model.ConversationMeta: listing rows returned by List and Search
//
// # Usage
//
//	store, err := storage.Open(ctx, path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.AppendMessage(ctx, conv.ID, msg)
//	metas, err := store.Search(ctx, "install")
package storage
