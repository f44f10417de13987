// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatmark/internal/client"
	"github.com/jeranaias/chatmark/internal/config"
	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		boolFlags []string
		wantSub   string
		validate  func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"list"},
			wantSub: "list",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"list", "--limit", "50"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"show", "--format=html"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("format") != "html" {
					t.Errorf("Flag(format) = %q, want %q", p.Flag("format"), "html")
				}
			},
		},
		{
			name:      "declared bool flag keeps the next positional",
			args:      []string{"--watch", "notes.txt"},
			boolFlags: []string{"watch"},
			wantSub:   "notes.txt",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("watch") {
					t.Error("BoolFlag(watch) should be true")
				}
			},
		},
		{
			name:    "undeclared trailing flag is boolean",
			args:    []string{"delete", "abc", "--confirm"},
			wantSub: "delete",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("confirm") {
					t.Error("BoolFlag(confirm) should be true")
				}
				if p.Positional(1) != "abc" {
					t.Errorf("Positional(1) = %q, want abc", p.Positional(1))
				}
			},
		},
		{
			name:    "multiple positional args",
			args:    []string{"search", "error", "in", "production"},
			wantSub: "search",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 4 {
					t.Errorf("PositionalCount() = %d, want 4", p.PositionalCount())
				}
				if got := JoinPositionalArgs(p, 1); got != "error in production" {
					t.Errorf("JoinPositionalArgs = %q, want %q", got, "error in production")
				}
			},
		},
		{
			name:    "dash is stdin",
			args:    []string{"-", "--width", "60"},
			wantSub: "-",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("width") != "60" {
					t.Errorf("Flag(width) = %q, want 60", p.Flag("width"))
				}
			},
		},
		{
			name:    "negative number is a value",
			args:    []string{"--width", "-5"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("width") != "-5" {
					t.Errorf("Flag(width) = %q, want -5", p.Flag("width"))
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"search", "--", "--not-a-flag"},
			wantSub: "search",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(1) != "--not-a-flag" {
					t.Errorf("Positional(1) = %q, want --not-a-flag", p.Positional(1))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.boolFlags...)
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--limit", "7", "--width", "wide"})

	n, err := p.FlagInt("limit", 20)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = p.FlagInt("missing", 20)
	require.NoError(t, err)
	require.Equal(t, 20, n)

	_, err = p.FlagInt("width", 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "--width", ve.Field)
}

func TestArgParser_FlagAliases(t *testing.T) {
	p := NewArgParser([]string{"-m", "small", "-y"}, "y")
	require.Equal(t, "small", p.Flag("model", "m"))
	require.True(t, p.BoolFlag("yes", "y"))
	require.True(t, p.HasFlag("-m"))
	require.False(t, p.HasFlag("model"))
	require.Equal(t, "fallback", p.FlagOrDefault("format", "fallback"))
}

func TestParseIntWithValidation(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"10", 10, false},
		{"1", 1, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"ten", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIntWithValidation(tt.input, "limit")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIntWithValidation(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseIntWithValidation(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		check   func(*testing.T, Args)
	}{
		{name: "no args", argv: nil, wantCmd: CmdHelp},
		{name: "help flag", argv: []string{"--help"}, wantCmd: CmdHelp},
		{name: "render alias", argv: []string{"r", "notes.txt"}, wantCmd: CmdRender,
			check: func(t *testing.T, a Args) {
				require.Equal(t, []string{"notes.txt"}, a.Raw)
			}},
		{name: "history alias", argv: []string{"hist", "list"}, wantCmd: CmdHistory},
		{name: "server alias", argv: []string{"server"}, wantCmd: CmdServe},
		{name: "password alias", argv: []string{"password"}, wantCmd: CmdPasswd},
		{name: "version flag", argv: []string{"--version"}, wantCmd: CmdVersion},
		{name: "unknown", argv: []string{"frobnicate"}, wantCmd: CmdUnknown,
			check: func(t *testing.T, a Args) {
				require.Equal(t, "frobnicate", a.Name)
			}},
		{name: "global flags anywhere", argv: []string{"history", "--json", "list", "-q", "--model", "big", "--config=/tmp/c.toml"}, wantCmd: CmdHistory,
			check: func(t *testing.T, a Args) {
				require.True(t, a.JSON)
				require.True(t, a.Quiet)
				require.Equal(t, "big", a.Model)
				require.Equal(t, "/tmp/c.toml", a.ConfigPath)
				require.Equal(t, []string{"list"}, a.Raw)
			}},
		{name: "case insensitive command", argv: []string{"CHAT"}, wantCmd: CmdChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			require.Equal(t, tt.wantCmd, cmd)
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

// =============================================================================
// ERROR TESTS (errors.go)
// =============================================================================

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"validation", NewValidationError("--width", "x", "bad"), ExitUsageError},
		{"wrapped validation", WrapError(ErrMissingArgument("id", "view <id>"), "view"), ExitUsageError},
		{"no terminal", &TTYRequiredError{Operation: "chat"}, ExitUsageError},
		{"not found", &NotFoundError{Resource: "conversation", ID: "x"}, ExitNotFoundError},
		{"storage not found", fmt.Errorf("load: %w", storage.ErrNotFound), ExitNotFoundError},
		{"config validation", config.ValidationError{Field: "render.width", Message: "negative"}, ExitConfigError},
		{"backend not configured", fmt.Errorf("%w: no key", client.ErrNotConfigured), ExitConfigError},
		{"auth failed", WrapError(client.ErrAuthFailed, "chat"), ExitAuthError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"network", WrapError(timeoutNetError{}, "send"), ExitNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, &NotFoundError{Resource: "conversation", ID: "abc"}, true)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, false, out["success"])
	require.Equal(t, "not_found_error", out["error_type"])
	require.EqualValues(t, ExitNotFoundError, out["exit_code"])
}

func TestWrapError_Nil(t *testing.T) {
	require.NoError(t, WrapError(nil, "anything"))
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

// testEnv returns an Env with buffered streams and a private database.
func testEnv(t *testing.T, stdin string) (*Env, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("CHATMARK_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "history.db")

	var stdout, stderr bytes.Buffer
	return &Env{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
		Config: cfg,
	}, &stdout, &stderr
}

// seedConversation stores a two-message conversation and returns it.
func seedConversation(t *testing.T, env *Env, title, reply string) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, env.Config.Storage.Path)
	require.NoError(t, err)
	defer store.Close()

	conv := model.NewConversation("test-model")
	conv.SetTitle(title)
	require.NoError(t, store.SaveConversation(ctx, conv))
	for _, msg := range []*model.Message{model.NewUserMessage("question about " + title), model.NewAssistantMessage(reply)} {
		require.NoError(t, store.AppendMessage(ctx, conv.ID, msg))
		conv.AddMessage(msg)
	}
	return conv
}

func TestHandleRender_StdinJSON(t *testing.T) {
	env, stdout, _ := testEnv(t, "SUMMARY\n- one\n- two\n")

	err := HandleRender(context.Background(), Args{JSON: true}, env)
	require.NoError(t, err)

	var blocks []render.BlockJSON
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &blocks))
	require.Len(t, blocks, 2)
	require.Equal(t, "heading", blocks[0].Type)
	require.Equal(t, "bullet_list", blocks[1].Type)
	require.Equal(t, []string{"• one", "• two"}, blocks[1].Items)
}

func TestHandleRender_HTMLPage(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	path := filepath.Join(t.TempDir(), "reply.txt")
	require.NoError(t, os.WriteFile(path, []byte("Use <b> tags **carefully**"), 0600))

	err := HandleRender(context.Background(), Args{Raw: []string{path, "--format", "html", "--page"}}, env)
	require.NoError(t, err)

	out := stdout.String()
	require.Contains(t, out, "<!DOCTYPE html>")
	require.Contains(t, out, "<title>reply.txt</title>")
	require.Contains(t, out, "&lt;b&gt;")
	require.Contains(t, out, "<strong>carefully</strong>")
}

func TestHandleRender_Output(t *testing.T) {
	env, stdout, stderr := testEnv(t, "NOTES\n> quoted")
	out := filepath.Join(t.TempDir(), "notes.json")

	err := HandleRender(context.Background(), Args{Raw: []string{"-", "--format", "json", "-o", out}}, env)
	require.NoError(t, err)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "wrote")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var blocks []render.BlockJSON
	require.NoError(t, json.Unmarshal(data, &blocks))
	require.Equal(t, "blockquote", blocks[1].Type)
}

func TestHandleRender_Terminal(t *testing.T) {
	env, stdout, _ := testEnv(t, "[x] done\n[ ] todo")

	err := HandleRender(context.Background(), Args{Raw: []string{"-", "--format", "terminal", "--width", "40"}}, env)
	require.NoError(t, err)
	require.Contains(t, stdout.String(), "☑ done")
	require.Contains(t, stdout.String(), "☐ todo")
}

func TestHandleRender_Errors(t *testing.T) {
	env, _, _ := testEnv(t, "text")
	ctx := context.Background()

	err := HandleRender(ctx, Args{Raw: []string{"--format", "pdf"}}, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))

	err = HandleRender(ctx, Args{Raw: []string{"--width", "-3"}}, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))

	err = HandleRender(ctx, Args{Raw: []string{"--watch"}}, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))

	err = HandleRender(ctx, Args{Raw: []string{filepath.Join(t.TempDir(), "missing.txt")}}, env)
	require.Equal(t, ExitNotFoundError, GetExitCode(err))

	env.Interactive = true
	err = HandleRender(ctx, Args{}, env)
	require.ErrorIs(t, err, ErrNoInput)
}

func TestHandleHistory_ListSearchShow(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	ctx := context.Background()
	k8s := seedConversation(t, env, "Kubernetes rollout", "STEPS\n1. drain\n2. upgrade")
	seedConversation(t, env, "Pasta recipe", "Boil water.")

	require.NoError(t, HandleHistory(ctx, Args{JSON: true, Raw: []string{"list"}}, env))
	var list struct {
		Conversations []model.ConversationMeta `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &list))
	require.Len(t, list.Conversations, 2)

	stdout.Reset()
	require.NoError(t, HandleHistory(ctx, Args{Raw: []string{"search", "kubernetes"}}, env))
	require.Contains(t, stdout.String(), k8s.ID)
	require.NotContains(t, stdout.String(), "Pasta")

	stdout.Reset()
	require.NoError(t, HandleHistory(ctx, Args{JSON: true, Raw: []string{"show", k8s.ID}}, env))
	var conv render.ConversationJSON
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &conv))
	require.Equal(t, k8s.ID, conv.ID)
	require.Len(t, conv.Messages, 2)

	stdout.Reset()
	require.NoError(t, HandleHistory(ctx, Args{Raw: []string{"show", k8s.ID}}, env))
	require.Contains(t, stdout.String(), "Kubernetes rollout")
	require.Contains(t, stdout.String(), "upgrade")
}

func TestHandleHistory_Delete(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	ctx := context.Background()
	conv := seedConversation(t, env, "Throwaway", "ok")

	err := HandleHistory(ctx, Args{Raw: []string{"delete", conv.ID}}, env)
	require.Equal(t, ExitUsageError, GetExitCode(err), "non-interactive delete needs --confirm")

	require.NoError(t, HandleHistory(ctx, Args{Raw: []string{"delete", conv.ID, "--confirm"}}, env))
	require.Contains(t, stdout.String(), "deleted")

	err = HandleHistory(ctx, Args{Raw: []string{"show", conv.ID}}, env)
	require.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestHandleView_NonInteractiveFallsBack(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	conv := seedConversation(t, env, "Viewer fallback", "PLAN\n- a")

	require.NoError(t, HandleView(context.Background(), Args{Raw: []string{conv.ID}}, env))
	require.Contains(t, stdout.String(), "Viewer fallback")
	require.Contains(t, stdout.String(), "PLAN")
}

func TestHandleConfig(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	args := Args{ConfigPath: path}

	args.Raw = []string{"init"}
	require.NoError(t, HandleConfig(args, env))
	require.FileExists(t, path)

	args.Raw = []string{"set", "render.code_style", "dracula"}
	require.NoError(t, HandleConfig(args, env))
	require.Equal(t, "dracula", env.Config.Render.CodeStyle)

	loaded, err := config.LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, "dracula", loaded.Render.CodeStyle)

	stdout.Reset()
	args.Raw = []string{"get", "render.code_style"}
	require.NoError(t, HandleConfig(args, env))
	require.Equal(t, "dracula\n", stdout.String())

	args.Raw = []string{"set", "render.width", "-4"}
	err = HandleConfig(args, env)
	require.Equal(t, ExitConfigError, GetExitCode(err))

	args.Raw = []string{"set", "no.such_key", "1"}
	err = HandleConfig(args, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestHandleConfig_GetRedactsSecrets(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	env.Config.Backend.APIKey = "sk-abcdefghijklmnop"

	require.NoError(t, HandleConfig(Args{Raw: []string{"get", "backend.api_key"}}, env))
	require.Equal(t, "sk-a****\n", stdout.String())
}

func TestHandlePasswd_Stdin(t *testing.T) {
	env, stdout, _ := testEnv(t, "correct horse battery\n")

	require.NoError(t, HandlePasswd(Args{JSON: true}, env))

	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.True(t, strings.HasPrefix(out["password_hash"].(string), "$2"))
	require.NotEmpty(t, out["totp_secret"])
	require.Contains(t, out["otpauth_url"], "otpauth://totp/")
}

func TestHandlePasswd_TooShort(t *testing.T) {
	env, _, _ := testEnv(t, "short\n")
	err := HandlePasswd(Args{Raw: []string{"--no-totp"}}, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestHandleVersion_JSON(t *testing.T) {
	env, stdout, _ := testEnv(t, "")
	require.NoError(t, HandleVersion(Args{JSON: true}, env))

	var v VersionData
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &v))
	require.Equal(t, Version, v.Version)
	require.NotEmpty(t, v.GoVersion)
}

func TestExecute_Unknown(t *testing.T) {
	env, _, _ := testEnv(t, "")
	cmd, args := ParseArgs([]string{"frobnicate"})
	err := Execute(context.Background(), cmd, args, env)
	require.Equal(t, ExitUsageError, GetExitCode(err))
}
