// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session authenticates the web client and tracks its session.
//
// A Manager holds at most one active session. Login checks a bcrypt password
// hash and, when a TOTP secret is configured, a one-time code. The session
// expires after a period of inactivity; callers refresh it with
// RecordActivity.
//
// # Key Types
//
//   - Manager: login, token validation and idle timeout
//   - Config: credentials and timeout settings
//   - Status: a snapshot for display
//
// # Usage
//
//	mgr := session.NewManager(session.Config{
//	    PasswordHash: cfg.Session.PasswordHash,
//	    TOTPSecret:   cfg.Session.TOTPSecret,
//	    Timeout:      30 * time.Minute,
//	})
//
//	token, err := mgr.Login(password, code)
//	if errors.Is(err, session.ErrMFARequired) {
//	    // ask for the authenticator code
//	}
//
//	if err := mgr.Validate(token); err == nil {
//	    mgr.RecordActivity()
//	}
//
// When no password hash is configured, Enabled reports false and callers
// skip authentication.
package session
