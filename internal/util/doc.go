// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the chatmark packages.
//
// # Key Functions
//
// Text:
//   - Normalize: NFC normalisation and line-ending cleanup for incoming text
//   - DisplayWidth: terminal column width, counting wide runes as 2
//   - TruncateWidth: width-aware truncation with an ellipsis
//   - PadRight: pad to a display width for table columns
//   - TruncateRunes: rune-safe truncation for titles and previews
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	text := util.Normalize(reply)
//	cell := util.PadRight(value, 12)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
