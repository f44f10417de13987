// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client talks to an OpenAI-compatible chat completions backend.
//
// Requests are paced by a token-bucket limiter and retried with exponential
// backoff on rate limiting and server errors. Response bodies are bounded by
// MaxResponseSize. API keys are never logged; KeyFingerprint gives a stable
// identifier for log lines instead.
//
// # Errors
//
// Non-2xx responses are returned as *APIError. APIError matches the
// sentinels ErrAuthFailed and ErrRateLimited with errors.Is:
//
//	reply, err := c.Send(ctx, "", conv.Messages)
//	if errors.Is(err, client.ErrAuthFailed) {
//	    // prompt for a new key
//	}
package client
