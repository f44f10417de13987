// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation for chatmark.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration (secrets redacted)
//   get <key>           Print one value
//   set <key> <value>   Change one value and save
//   validate            Check the configuration
//   path                Show the configuration file path
//   init                Write a default config.toml if none exists
//   keys                List every key
//
// Examples:
//   chatmark config set render.code_style dracula
//   chatmark config set server.allowed_origins http://localhost:3000,http://127.0.0.1:3000
//   chatmark config get backend.model --json

package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jeranaias/chatmark/internal/config"
)

// secretKeys are never printed by `config get`.
var secretKeys = []string{"backend.api_key", "session.password_hash", "session.totp_secret"}

// HandleConfig handles "chatmark config".
func HandleConfig(args Args, env *Env) error {
	p := NewArgParser(args.Raw)
	sub := p.Subcommand()

	switch sub {
	case "", "show":
		if args.JSON {
			fmt.Fprintln(env.Stdout, env.Config.String())
			return nil
		}
		fmt.Fprintln(env.Stdout, TitleStyle.Render("Configuration"))
		fmt.Fprintln(env.Stdout, env.Config.String())
		return nil

	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "chatmark config get <key>")
		}
		value, err := env.Config.Get(key)
		if err != nil {
			return NewValidationError("key", key, err.Error())
		}
		if isSecretKey(key) {
			value = redact(fmt.Sprint(value))
		}
		if args.JSON {
			return writeJSON(env.Stdout, map[string]any{"key": key, "value": value})
		}
		fmt.Fprintln(env.Stdout, formatConfigValue(value))
		return nil

	case "set":
		key, value := p.Positional(1), JoinPositionalArgs(p, 2)
		if key == "" || value == "" {
			return ErrMissingArgument("key and value", "chatmark config set <key> <value>")
		}
		return setConfigValue(args, env, key, value)

	case "validate", "check":
		if err := env.Config.Validate(); err != nil {
			return err
		}
		if args.JSON {
			return writeJSON(env.Stdout, map[string]any{"valid": true})
		}
		fmt.Fprintf(env.Stdout, "%s configuration is valid\n", RenderStatus("ok"))
		return nil

	case "path":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		if args.JSON {
			_, statErr := os.Stat(path)
			return writeJSON(env.Stdout, map[string]any{"path": path, "exists": statErr == nil})
		}
		fmt.Fprintln(env.Stdout, path)
		return nil

	case "init":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return NewCommandError("config", "init", path+" already exists", nil)
		}
		if err := saveConfig(args, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "%s wrote %s\n", RenderStatus("ok"), path)
		return nil

	case "keys":
		keys := config.GetAllKeys()
		if args.JSON {
			return writeJSON(env.Stdout, map[string]any{"keys": keys})
		}
		for _, k := range keys {
			fmt.Fprintln(env.Stdout, k)
		}
		return nil

	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   sub,
			Reason:  "unknown config subcommand",
			Example: "chatmark config show|get|set|validate|path|init|keys",
		}
	}
}

// setConfigValue applies key=value to a copy of the current config,
// validates it and saves it.
func setConfigValue(args Args, env *Env, key, value string) error {
	cfg := env.Config.Clone()
	if err := cfg.Set(key, value); err != nil {
		return NewValidationError("key", key, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := saveConfig(args, cfg); err != nil {
		return err
	}
	env.Config = cfg

	shown := value
	if isSecretKey(key) {
		shown = redact(value)
	}
	if args.JSON {
		return writeJSON(env.Stdout, map[string]any{"key": key, "value": shown, "saved": true})
	}
	fmt.Fprintf(env.Stdout, "%s %s = %s\n", RenderStatus("ok"), key, shown)
	return nil
}

// configFilePath is --config when given, else the default TOML path.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func saveConfig(args Args, cfg *config.Config) error {
	var err error
	switch {
	case args.ConfigPath == "":
		err = config.Save(cfg)
	case strings.HasSuffix(args.ConfigPath, ".json"):
		err = config.SaveJSON(cfg, args.ConfigPath)
	default:
		err = config.SaveTOML(cfg, args.ConfigPath)
	}
	if err != nil {
		return WrapError(err, "save config")
	}
	return nil
}

func isSecretKey(key string) bool {
	return slices.Contains(secretKeys, strings.ToLower(key))
}

// redact keeps the first four characters of a secret.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func formatConfigValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(v)
}
