// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/ui/viewer"
	"github.com/jeranaias/chatmark/internal/util"
)

const defaultHistoryLimit = 20

var transcriptFormats = []string{"terminal", "html", "json"}

// HandleHistory handles "chatmark history [list|search|show|delete]".
func HandleHistory(ctx context.Context, args Args, env *Env) error {
	p := NewArgParser(args.Raw, "confirm", "yes", "y")

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	switch p.Subcommand() {
	case "", "list", "ls":
		limit, err := p.FlagInt("limit", defaultHistoryLimit)
		if err != nil {
			return err
		}
		metas, err := store.ListConversations(ctx, limit)
		if err != nil {
			return WrapError(err, "list history")
		}
		return printConversationList(env.Stdout, metas, args.JSON, "No saved conversations.")

	case "search", "find":
		query := JoinPositionalArgs(p, 1)
		if strings.TrimSpace(query) == "" {
			return ErrMissingArgument("query", "chatmark history search <query>")
		}
		metas, err := store.Search(ctx, query)
		if err != nil {
			return WrapError(err, "search history")
		}
		return printConversationList(env.Stdout, metas, args.JSON, fmt.Sprintf("No conversations match %q.", query))

	case "show", "cat":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "chatmark history show <id>")
		}
		format := strings.ToLower(p.FlagOrDefault("format", "terminal"))
		if args.JSON {
			format = "json"
		}
		if !slices.Contains(transcriptFormats, format) {
			return ErrUnsupportedFormat(format, transcriptFormats)
		}
		conv, err := store.LoadConversation(ctx, id)
		if err != nil {
			return notFound(err, id)
		}
		return writeTranscript(env, conv, format)

	case "delete", "rm":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "chatmark history delete <id> --confirm")
		}
		if !p.BoolFlag("confirm", "yes", "y") {
			ok, err := confirm(env, fmt.Sprintf("Delete conversation %s?", id))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(env.Stdout, "Cancelled.")
				return nil
			}
		}
		if err := store.DeleteConversation(ctx, id); err != nil {
			return notFound(err, id)
		}
		if !args.Quiet {
			fmt.Fprintf(env.Stdout, "%s deleted %s\n", RenderStatus("ok"), id)
		}
		return nil

	default:
		return &ValidationError{
			Field:   "history subcommand",
			Value:   p.Subcommand(),
			Reason:  "unknown subcommand",
			Example: "chatmark history [list|search|show|delete]",
		}
	}
}

// printConversationList writes one line per conversation, or JSON.
func printConversationList(w io.Writer, metas []model.ConversationMeta, jsonMode bool, emptyMsg string) error {
	if jsonMode {
		if metas == nil {
			metas = []model.ConversationMeta{}
		}
		return writeJSON(w, map[string]any{"conversations": metas})
	}
	if len(metas) == 0 {
		fmt.Fprintln(w, DimStyle.Render(emptyMsg))
		return nil
	}

	now := time.Now()
	for _, m := range metas {
		fmt.Fprintf(w, "%s  %s  %s\n",
			m.ID,
			DimStyle.Render(util.PadRight(render.FormatTimestamp(m.UpdatedAt, now), 12)),
			TitleStyle.Render(util.TruncateWidth(m.Title, 50)))
		if m.Preview != "" {
			fmt.Fprintf(w, "    %s\n", DimStyle.Render(util.TruncateWidth(m.Preview, 72)))
		}
	}
	return nil
}

// writeTranscript prints a whole conversation in format.
func writeTranscript(env *Env, conv *model.Conversation, format string) error {
	blocks := newBlockCache(env.Config)
	switch format {
	case "json":
		return writeJSON(env.Stdout, render.EncodeConversation(conv, blocks))
	case "html":
		page, err := render.NewHTML(renderOptions(env, 0)).Conversation(conv, blocks)
		if err != nil {
			return err
		}
		_, err = io.WriteString(env.Stdout, page)
		return err
	default:
		opts := renderOptions(env, 0)
		out, err := render.NewTerminal(opts).Conversation(conv, blocks, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Stdout, TitleStyle.Render(conv.GetTitle()))
		meta := fmt.Sprintf("%s · %d messages", conv.ID, len(conv.Messages))
		if conv.Model != "" {
			meta += " · " + conv.Model
		}
		fmt.Fprintln(env.Stdout, DimStyle.Render(meta))
		fmt.Fprintln(env.Stdout, RenderSeparator(min(opts.Width, 70)))
		fmt.Fprintln(env.Stdout, out)
		return nil
	}
}

// confirm asks a yes/no question on env. Without a terminal it refuses.
func confirm(env *Env, question string) (bool, error) {
	if !env.Interactive {
		return false, &ValidationError{Field: "--confirm", Reason: "required when not running in a terminal"}
	}
	fmt.Fprint(env.Stdout, PromptStyle.Render(question+" [y/N] "))
	line, err := bufio.NewReader(env.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// =============================================================================
// VIEW
// =============================================================================

// HandleView handles "chatmark view <id>". Without a terminal it falls
// back to printing the transcript.
func HandleView(ctx context.Context, args Args, env *Env) error {
	p := NewArgParser(args.Raw)
	id := p.Positional(0)
	if id == "" {
		return ErrMissingArgument("id", "chatmark view <id>")
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	conv, err := store.LoadConversation(ctx, id)
	store.Close()
	if err != nil {
		return notFound(err, id)
	}

	if !env.Interactive {
		return writeTranscript(env, conv, "terminal")
	}
	return viewer.Run(conv, viewer.Options{
		Render: renderOptions(env, 0),
		Cache:  newBlockCache(env.Config),
	})
}
