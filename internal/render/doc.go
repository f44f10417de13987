// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns parsed message blocks into visual output.
//
// # Key Types
//
//   - Renderer: block renderer interface (Terminal, HTML, JSON)
//   - RawRenderer: renders raw message text (Glamour)
//   - Options: width, code style and theme shared by the renderers
//
// Every renderer switches exhaustively over the markup block and span
// variants and panics on an unknown one.
//
// # Usage
//
//	r, err := render.New("terminal", render.Options{Width: 80})
//	if err != nil {
//	    return err
//	}
//	out, err := render.Message(r, blockCache, reply)
package render
