// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatmark.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - RenderConfig: Output format, width, code style and block cache size
//   - BackendConfig: Chat completions endpoint, model and rate limits
//   - SessionConfig: Web login credentials and idle timeout
//   - ServerConfig: Listen port, request rate and allowed origins
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATMARK_*)
//   - ~/.chatmark/config.toml
//   - ~/.chatmark/config.json
//   - Built-in defaults
//
// CHATMARK_HOME replaces ~/.chatmark.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Printf("CONFIG_WARN | error=%v", err)
//	}
//	width := cfg.Render.Width
package config
