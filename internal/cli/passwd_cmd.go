// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/chatmark/internal/session"
)

// minPasswordLength is the shortest accepted web password.
const minPasswordLength = 8

// HandlePasswd handles "chatmark passwd": it hashes a new web password and
// optionally enrolls a TOTP secret.
//
//	chatmark passwd              prompt, print a [session] snippet
//	chatmark passwd --save       prompt, write the result into the config
//	chatmark passwd --no-totp    skip the second factor
func HandlePasswd(args Args, env *Env) error {
	p := NewArgParser(args.Raw, "save", "no-totp")

	password, err := readNewPassword(env)
	if err != nil {
		return err
	}
	hash, err := session.HashPassword(password)
	if err != nil {
		return WrapError(err, "hash password")
	}

	var secret, otpURL string
	if !p.BoolFlag("no-totp") {
		secret, otpURL, err = session.GenerateTOTPSecret(p.FlagOrDefault("account", "chatmark"))
		if err != nil {
			return err
		}
	}

	if p.BoolFlag("save") {
		cfg := env.Config.Clone()
		cfg.Session.PasswordHash = hash
		cfg.Session.TOTPSecret = secret
		if err := saveConfig(args, cfg); err != nil {
			return err
		}
		env.Config = cfg
	}

	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{
			"password_hash": hash,
			"totp_secret":   secret,
			"otpauth_url":   otpURL,
			"saved":         p.BoolFlag("save"),
		})
	}

	if p.BoolFlag("save") {
		fmt.Fprintf(env.Stdout, "%s password saved to the config\n", RenderStatus("ok"))
	} else {
		fmt.Fprintln(env.Stdout, "Add this to config.toml:")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "[session]")
		fmt.Fprintf(env.Stdout, "password_hash = %q\n", hash)
		if secret != "" {
			fmt.Fprintf(env.Stdout, "totp_secret = %q\n", secret)
		}
	}
	if otpURL != "" {
		fmt.Fprintln(env.Stdout)
		fmt.Fprintf(env.Stdout, "%s%s\n", RenderLabel("Authenticator:"), otpURL)
	}
	return nil
}

// readNewPassword prompts twice without echo on a terminal, or reads one
// line from stdin otherwise.
func readNewPassword(env *Env) (string, error) {
	var password string
	if env.Interactive {
		first, err := promptPassword(env, "New password: ")
		if err != nil {
			return "", err
		}
		second, err := promptPassword(env, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", NewValidationError("password", "", "passwords do not match")
		}
		password = first
	} else {
		line, err := bufio.NewReader(env.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.New("no password on stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if len(password) < minPasswordLength {
		return "", NewValidationError("password", "", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	return password, nil
}

func promptPassword(env *Env, prompt string) (string, error) {
	fmt.Fprint(env.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(env.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
