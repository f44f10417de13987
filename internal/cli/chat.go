// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/peterh/liner"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/client"
	"github.com/jeranaias/chatmark/internal/config"
	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/server"
	"github.com/jeranaias/chatmark/internal/storage"
	"github.com/jeranaias/chatmark/internal/ui/styles"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor whose history lives in historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory reads saved input history, if any.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput prompts for one line and records it in history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession is one interactive conversation.
type ChatSession struct {
	Backend server.Backend
	Store   *storage.Store
	Conv    *model.Conversation
	Model   string
	Quiet   bool

	term   *render.Terminal
	theme  *styles.Theme
	blocks *cache.Blocks
	out    io.Writer
	errOut io.Writer

	// persisted is set once Conv exists in the store.
	persisted bool
	copyFn    func(string) error

	StartTime   time.Time
	Exchanges   int
	TotalTokens int
}

// NewChatSession creates a session. conv may be nil for a fresh
// conversation.
func NewChatSession(backend server.Backend, store *storage.Store, conv *model.Conversation, modelName string, env *Env) *ChatSession {
	opts := renderOptions(env, 0)
	persisted := conv != nil
	if conv == nil {
		conv = model.NewConversation(modelName)
	}
	return &ChatSession{
		Backend:   backend,
		Store:     store,
		Conv:      conv,
		Model:     modelName,
		term:      render.NewTerminal(opts),
		theme:     opts.Theme,
		blocks:    newBlockCache(env.Config),
		out:       env.Stdout,
		errOut:    env.Stderr,
		persisted: persisted,
		copyFn:    clipboard.WriteAll,
		StartTime: time.Now(),
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles "chatmark chat".
func HandleChat(ctx context.Context, args Args, env *Env) error {
	p := NewArgParser(args.Raw)
	modelName := p.Flag("model", "m")
	if modelName == "" {
		modelName = args.Model
	}
	if modelName == "" {
		modelName = env.Config.Backend.Model
	}

	if err := RequiresTTY("start a chat"); err != nil {
		return err
	}

	backend := newBackend(env.Config.Backend, modelName)
	if !backend.IsConfigured() {
		return fmt.Errorf("%w: set backend.api_key in the config or CHATMARK_API_KEY", client.ErrNotConfigured)
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	var conv *model.Conversation
	if id := p.Flag("conversation", "c"); id != "" {
		conv, err = store.LoadConversation(ctx, id)
		if err != nil {
			return notFound(err, id)
		}
	}

	session := NewChatSession(backend, store, conv, modelName, env)
	session.Quiet = args.Quiet

	historyFile := filepath.Join(os.TempDir(), "chatmark_history")
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}
	input := NewChatCLI(historyFile)
	defer input.Close()

	if !session.Quiet {
		session.printWelcome()
	}

	for {
		line, err := input.ReadInput("chatmark> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or closed stdin.
			fmt.Fprintln(env.Stdout)
			session.printExitSummary()
			return nil
		}

		keepGoing, err := session.HandleInput(ctx, line)
		if err != nil {
			DisplayError(env.Stderr, err, false)
		}
		if !keepGoing {
			session.printExitSummary()
			return nil
		}
	}
}

// HandleInput processes one line of input. It returns false when the user
// asked to leave.
func (s *ChatSession) HandleInput(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return true, nil
	case strings.HasPrefix(input, "/"):
		return s.handleSlashCommand(ctx, input)
	case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
		return false, nil
	}

	// Ctrl+C while waiting cancels only this request.
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return true, s.send(reqCtx, input)
}

// send stores the user message, asks the backend and prints the reply.
func (s *ChatSession) send(ctx context.Context, content string) error {
	if !s.persisted {
		if err := s.Store.SaveConversation(ctx, s.Conv); err != nil {
			return WrapError(err, "create conversation")
		}
		s.persisted = true
	}

	userMsg := model.NewUserMessage(content)
	if err := s.Store.AppendMessage(ctx, s.Conv.ID, userMsg); err != nil {
		return WrapError(err, "store message")
	}
	s.Conv.AddMessage(userMsg)

	start := time.Now()
	reply, err := s.Backend.Send(ctx, s.Model, s.Conv.Messages)
	if err != nil {
		log.Printf("BACKEND_ERROR | conversation=%s error=%v", s.Conv.ID, err)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(s.errOut, WarningStyle.Render("[Cancelled]"))
			return nil
		}
		return err
	}

	assistant := reply.Message()
	if err := s.Store.AppendMessage(ctx, s.Conv.ID, assistant); err != nil {
		log.Printf("STORAGE_ERROR | op=append conversation=%s error=%v", s.Conv.ID, err)
		fmt.Fprintf(s.errOut, "%s reply not saved: %v\n", WarningStyle.Render("[WARN]"), err)
	}
	s.Conv.AddMessage(assistant)
	s.Exchanges++
	s.TotalTokens += reply.PromptTokens + reply.CompletionTokens

	return s.printMessage(assistant, time.Since(start))
}

func (s *ChatSession) printMessage(msg *model.Message, elapsed time.Duration) error {
	body, err := s.term.Render(msg.Blocks(s.blocks))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, s.theme.RoleLabel(msg.Role.String()))
	fmt.Fprintln(s.out, body)
	if !s.Quiet && elapsed > 0 {
		detail := formatDurationShort(elapsed)
		if msg.TokenCount > 0 {
			detail += fmt.Sprintf(" · %d tokens", msg.TokenCount)
		}
		fmt.Fprintln(s.out, DimStyle.Render(detail))
	}
	fmt.Fprintln(s.out)
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /help, /h         Show this help
  /new              Start a new conversation
  /copy             Copy the last code block to the clipboard
  /model [name]     Show or switch the model
  /title <text>     Rename the conversation
  /show             Re-render the whole conversation
  /history [n]      List recent conversations
  /status, /s       Show session statistics
  /quit, /q         Exit (also: exit, Ctrl+D)`

func (s *ChatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h", "/?":
		fmt.Fprintln(s.out, chatHelp)

	case "/new", "/clear":
		s.Conv = model.NewConversation(s.Model)
		s.persisted = false
		fmt.Fprintln(s.out, DimStyle.Render("Started a new conversation."))

	case "/copy":
		cb, ok := s.Conv.LastCodeBlock(s.blocks)
		if !ok {
			return true, errors.New("no code block in this conversation")
		}
		if err := s.copyFn(cb.Code); err != nil {
			return true, WrapError(err, "copy to clipboard")
		}
		fmt.Fprintf(s.out, "%s copied %s block\n", RenderStatus("ok"), cb.Language)

	case "/model":
		if arg == "" {
			fmt.Fprintf(s.out, "Model: %s\n", s.Model)
			break
		}
		s.Model = arg
		fmt.Fprintf(s.out, "Model set to %s\n", arg)

	case "/title":
		if arg == "" {
			fmt.Fprintf(s.out, "Title: %s\n", s.Conv.GetTitle())
			break
		}
		s.Conv.SetTitle(arg)
		if s.persisted {
			if err := s.Store.SaveConversation(ctx, s.Conv); err != nil {
				return true, WrapError(err, "save title")
			}
		}
		fmt.Fprintf(s.out, "Title set to %q\n", s.Conv.GetTitle())

	case "/show":
		out, err := s.term.Conversation(s.Conv, s.blocks, time.Now())
		if err != nil {
			return true, err
		}
		fmt.Fprintln(s.out, out)

	case "/history":
		limit := 10
		if arg != "" {
			n, err := ParseIntWithValidation(arg, "count")
			if err != nil {
				return true, NewValidationError("count", arg, err.Error())
			}
			limit = n
		}
		metas, err := s.Store.ListConversations(ctx, limit)
		if err != nil {
			return true, err
		}
		return true, printConversationList(s.out, metas, false, "No saved conversations.")

	case "/status", "/s":
		s.printStatus()

	default:
		return true, &ValidationError{Field: "command", Value: name, Reason: "unknown chat command", Example: "/help"}
	}
	return true, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("chatmark chat"))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Model:"), ValueStyle.Render(s.Model))
	if s.persisted {
		fmt.Fprintf(s.out, "%s%s (%d messages)\n", RenderLabel("Continuing:"), s.Conv.GetTitle(), len(s.Conv.Messages))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printStatus() {
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Conversation:"), s.Conv.ID)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Title:"), s.Conv.GetTitle())
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Model:"), s.Model)
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Messages:"), len(s.Conv.Messages))
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Tokens:"), s.TotalTokens)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Elapsed:"), formatDurationShort(time.Since(s.StartTime)))
}

func (s *ChatSession) printExitSummary() {
	if s.Quiet || s.Exchanges == 0 {
		return
	}
	fmt.Fprintf(s.out, "%s %d exchanges, %d tokens in %s. Saved as %s\n",
		DimStyle.Render("Session:"), s.Exchanges, s.TotalTokens,
		formatDurationShort(time.Since(s.StartTime)), s.Conv.ID)
}

// formatDurationShort formats durations like 850ms, 2.4s, 3m12s.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
