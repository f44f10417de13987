// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/client"
	"github.com/jeranaias/chatmark/internal/config"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/storage"
)

// Version information (overridden at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdRender
	CmdView
	CmdChat
	CmdHistory
	CmdServe
	CmdConfig
	CmdPasswd
	CmdVersion
	CmdUnknown
)

// Args holds the global flags and the arguments after the command name.
type Args struct {
	Quiet      bool
	Verbose    bool
	JSON       bool
	NoColor    bool
	Model      string
	ConfigPath string

	// Name is the command as typed.
	Name string

	// Raw holds everything after the command name; each handler parses it
	// with its own ArgParser.
	Raw []string
}

const usageText = `chatmark - structured rendering for AI chat replies

Usage:
  chatmark render [file|-]          Render message text (stdin when no file)
    --format terminal|html|json     Output format (default from config)
    --engine glamour                Render raw text with glamour instead
    --width N                       Wrap width (default: terminal width)
    --page                          Wrap HTML output in a standalone page
    --watch                         Re-render whenever the file changes
    -o, --output FILE               Write to FILE instead of stdout
  chatmark view <id>                Page through a saved conversation
  chatmark chat                     Interactive chat
    --model NAME                    Backend model
    --conversation ID               Continue a saved conversation
  chatmark history list             List saved conversations
    --limit N                       Show at most N (default: 20)
  chatmark history search <query>   Fuzzy search titles and previews
  chatmark history show <id>        Print a conversation
    --format terminal|html|json
  chatmark history delete <id>      Delete a conversation
    --confirm                       Skip the confirmation prompt
  chatmark serve                    Start the local HTTP API
    --port N                        Listen port (default from config)
  chatmark config [show|validate|path|get|set|init]
  chatmark passwd                   Hash a login password for [session]
    --no-totp                       Do not generate a TOTP secret
    --save                          Write the result into the config file
  chatmark version
  chatmark help

Global Flags:
  -q, --quiet       Minimal output
  -v, --verbose     Log to stderr
  --json            JSON output where supported
  --no-color        Disable colors (same as NO_COLOR=1)
  --model NAME      Override the backend model
  --config PATH     Use a specific config file

Examples:
  echo "SUMMARY\n- one\n- two" | chatmark render
  chatmark render reply.txt --format html --page > reply.html
  chatmark render draft.txt --watch
  chatmark render draft.txt --watch --format html --page -o preview.html
  chatmark history search "kubernetes"
  chatmark serve --port 9000

Version: %s
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs splits argv into global flags, a command and its arguments.
// Global flags are accepted anywhere on the line.
func ParseArgs(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdHelp, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "render", "r":
		return CmdRender, args
	case "view":
		return CmdView, args
	case "chat":
		return CmdChat, args
	case "history", "hist":
		return CmdHistory, args
	case "serve", "server":
		return CmdServe, args
	case "config":
		return CmdConfig, args
	case "passwd", "password":
		return CmdPasswd, args
	case "version", "--version":
		return CmdVersion, args
	case "help", "-h", "--help":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

func parseGlobalFlags(argv []string) ([]string, Args) {
	var (
		remaining []string
		args      Args
	)
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--json":
			args.JSON = true
		case "--no-color":
			args.NoColor = true
		case "--model", "--config":
			if i+1 < len(argv) {
				i++
				if arg == "--model" {
					args.Model = argv[i]
				} else {
					args.ConfigPath = argv[i]
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				args.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--config="):
				args.ConfigPath = strings.TrimPrefix(arg, "--config=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env carries the I/O streams and configuration a command runs against.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config

	// Interactive is true when stdin and stdout are both terminals.
	Interactive bool
}

// loadConfig reads the config named by --config, or the default location.
// A broken default config is reported and replaced with defaults.
func loadConfig(args Args, stderr io.Writer) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	cfg, err := config.Load()
	if err != nil && !args.Quiet {
		fmt.Fprintf(stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
	}
	return cfg, nil
}

// setupLogging points the standard logger at the configured file (0600),
// stderr when verbose, or nowhere.
func setupLogging(cfg config.LogConfig, verbose bool, stderr io.Writer) (io.Closer, error) {
	log.SetFlags(log.LstdFlags)
	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		return f, nil
	case verbose || cfg.Verbose:
		log.SetOutput(stderr)
	default:
		log.SetOutput(io.Discard)
	}
	return io.NopCloser(nil), nil
}

// Run loads configuration, sets up logging and executes cmd against the
// process streams.
func Run(cmd Command, args Args) error {
	if args.NoColor {
		os.Setenv("NO_COLOR", "1")
		ForceColorsEnabled(false)
	}

	cfg, err := loadConfig(args, os.Stderr)
	if err != nil {
		return err
	}
	closer, err := setupLogging(cfg.Log, args.Verbose, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	env := &Env{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Config:      cfg,
		Interactive: IsTTY() && IsStdoutTTY(),
	}
	return Execute(context.Background(), cmd, args, env)
}

// Execute dispatches cmd.
func Execute(ctx context.Context, cmd Command, args Args, env *Env) error {
	switch cmd {
	case CmdRender:
		return HandleRender(ctx, args, env)
	case CmdView:
		return HandleView(ctx, args, env)
	case CmdChat:
		return HandleChat(ctx, args, env)
	case CmdHistory:
		return HandleHistory(ctx, args, env)
	case CmdServe:
		return HandleServe(ctx, args, env)
	case CmdConfig:
		return HandleConfig(args, env)
	case CmdPasswd:
		return HandlePasswd(args, env)
	case CmdVersion:
		return HandleVersion(args, env)
	case CmdHelp:
		PrintUsage(env.Stdout)
		return nil
	default:
		return &ValidationError{
			Field:   "command",
			Value:   args.Name,
			Reason:  "unknown command",
			Example: "chatmark help",
		}
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// openStore opens the conversation database from the config.
func openStore(ctx context.Context, env *Env) (*storage.Store, error) {
	path, err := env.Config.DatabasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, path)
	if err != nil {
		return nil, WrapError(err, "open history")
	}
	return store, nil
}

// newBackend builds the chat client from [backend], with modelName
// overriding the configured model when set.
func newBackend(cfg config.BackendConfig, modelName string) *client.Client {
	if modelName == "" {
		modelName = cfg.Model
	}
	return client.New(cfg.URL, cfg.APIKey,
		client.WithModel(modelName),
		client.WithTimeout(time.Duration(cfg.TimeoutSecs)*time.Second),
		client.WithRateLimit(cfg.RatePerSec, 1),
		client.WithRetry(cfg.MaxRetries, 0),
	)
}

// renderOptions resolves the render settings for stdout output. An explicit
// width wins over the config, which wins over the terminal width.
func renderOptions(env *Env, width int) render.Options {
	rc := env.Config.Render
	if width <= 0 {
		width = rc.Width
	}
	if width <= 0 {
		width = GetTerminalWidth()
	}
	return render.Options{
		Width:     width,
		CodeStyle: rc.CodeStyle,
		ThemeMode: rc.Theme,
		Theme:     outputTheme(rc.Theme),
	}
}

func newBlockCache(cfg *config.Config) *cache.Blocks {
	return cache.New(cfg.Render.CacheSize)
}

// =============================================================================
// VERSION
// =============================================================================

// VersionData is the JSON form of `chatmark version`.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(args Args, env *Env) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return writeJSON(env.Stdout, data)
	}
	fmt.Fprintf(env.Stdout, "chatmark version %s\n", data.Version)
	if !args.Quiet {
		fmt.Fprintf(env.Stdout, "  Git commit: %s\n", data.GitCommit)
		fmt.Fprintf(env.Stdout, "  Build date: %s\n", data.BuildDate)
		fmt.Fprintf(env.Stdout, "  Go:         %s (%s)\n", data.GoVersion, data.Platform)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
