// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API used by the web client.
//
// Endpoints:
//   - POST   /api/login               - Start a session (password + optional TOTP code)
//   - POST   /api/logout              - End the session
//   - POST   /api/render              - Render text to JSON blocks or HTML
//   - POST   /api/chat                - Send a message to the backend and store both sides
//   - GET    /api/conversations       - List conversations (?q= fuzzy search, ?limit=)
//   - GET    /api/conversations/{id}  - Conversation with rendered blocks (?format=html for a page)
//   - DELETE /api/conversations/{id}  - Delete a conversation
//   - GET    /api/stats               - Request and cache counters
//   - GET    /health                  - Health check
//
// Every response passes through recovery, security headers, optional
// request logging and CORS, per-IP rate limiting, and bearer-session
// authentication. Errors are returned as {"error": "message"}.
package server
