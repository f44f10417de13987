// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for chatmark.
//
// # Key Types
//
//   - Command: enumeration of the available commands
//   - Args: global flags plus the raw arguments after the command name
//   - Env: the streams and configuration a command runs against
//   - ArgParser: per-command flag and positional parsing
//   - ChatSession: state for the interactive chat REPL
//
// # Usage
//
//	cmd, args := cli.Parse()
//	if err := cli.Run(cmd, args); err != nil {
//	    cli.DisplayError(os.Stderr, err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands
//
//   - render: turn message text into terminal, HTML or JSON output
//   - view: page through a saved conversation
//   - chat: interactive chat against the configured backend
//   - history: list, search, show and delete saved conversations
//   - serve: local HTTP API for the web client
//   - config: inspect and edit configuration
//   - passwd: hash a web login password and enroll TOTP
//
// Commands that print data accept --json.
package cli
