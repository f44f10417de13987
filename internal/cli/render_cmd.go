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
	"slices"
	"strings"
	"time"

	"github.com/muesli/termenv"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/util"
	"github.com/jeranaias/chatmark/internal/watch"
)

// MaxInputSize bounds the text `chatmark render` will read, matching the
// limit `render --watch` applies.
const MaxInputSize = watch.MaxFileSize

var renderFormats = []string{"terminal", "html", "json", "glamour"}

// ErrNoInput is returned when render has neither a file nor piped stdin.
var ErrNoInput = errors.New("no input: pass a file or pipe text on stdin")

// renderFunc turns raw message text into output.
type renderFunc func(text string) (string, error)

// HandleRender handles "chatmark render".
func HandleRender(ctx context.Context, args Args, env *Env) error {
	p := NewArgParser(args.Raw, "watch", "page")

	format := strings.ToLower(p.FlagOrDefault("format", env.Config.Render.Format))
	if args.JSON && !p.HasFlag("format") {
		format = "json"
	}
	if engine := p.Flag("engine"); engine != "" {
		if !strings.EqualFold(engine, "glamour") {
			return &ValidationError{Field: "--engine", Value: engine, Reason: "only glamour is supported"}
		}
		format = "glamour"
	}
	if !slices.Contains(renderFormats, format) {
		return ErrUnsupportedFormat(format, renderFormats)
	}

	width, err := p.FlagInt("width", 0)
	if err != nil {
		return err
	}
	if width < 0 {
		return NewValidationError("--width", p.Flag("width"), "must not be negative")
	}

	path := p.Positional(0)
	title := "chatmark"
	if path != "" && path != "-" {
		title = filepath.Base(path)
	}

	blocks := newBlockCache(env.Config)
	fn, err := newRenderFunc(format, renderOptions(env, width), blocks, p.BoolFlag("page"), title)
	if err != nil {
		return err
	}

	output := p.Flag("output", "o")

	if p.BoolFlag("watch") {
		if path == "" || path == "-" {
			return &ValidationError{Field: "--watch", Reason: "needs a file path", Example: "chatmark render notes.txt --watch"}
		}
		if output != "" {
			return watchRenderToFile(ctx, env, path, output, fn)
		}
		return watchRender(ctx, env, path, fn)
	}

	text, err := readInput(env, path)
	if err != nil {
		return err
	}
	out, err := fn(text)
	if err != nil {
		return err
	}
	if output != "" {
		if err := writeOutput(output, out); err != nil {
			return err
		}
		if !args.Quiet {
			fmt.Fprintf(env.Stderr, "%s wrote %s\n", RenderStatus("ok"), output)
		}
		return nil
	}
	fmt.Fprintln(env.Stdout, strings.TrimRight(out, "\n"))
	return nil
}

// writeOutput replaces path with rendered output.
func writeOutput(path, out string) error {
	if err := util.AtomicWriteFile(path, []byte(strings.TrimRight(out, "\n")+"\n"), 0644); err != nil {
		return WrapError(err, "write output")
	}
	return nil
}

// newRenderFunc builds the renderer for format. The glamour engine sees the
// raw text; everything else goes through the block parser.
func newRenderFunc(format string, opts render.Options, blocks *cache.Blocks, page bool, title string) (renderFunc, error) {
	if format == "glamour" {
		g, err := render.NewGlamour(opts)
		if err != nil {
			return nil, err
		}
		return func(text string) (string, error) {
			return g.RenderRaw(util.Normalize(text))
		}, nil
	}

	r, err := render.New(format, opts)
	if err != nil {
		return nil, ErrUnsupportedFormat(format, renderFormats)
	}
	return func(text string) (string, error) {
		out, err := render.Message(r, blocks, text)
		if err != nil {
			return "", err
		}
		if page && format == "html" {
			out = render.Page(title, out)
		}
		return out, nil
	}, nil
}

// readInput reads path, or stdin for "" and "-".
func readInput(env *Env, path string) (string, error) {
	var r io.Reader
	switch path {
	case "", "-":
		if path == "" && env.Interactive {
			return "", ErrNoInput
		}
		r = env.Stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", &NotFoundError{Resource: "file", ID: path}
			}
			return "", err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxInputSize+1))
	if err != nil {
		return "", WrapError(err, "read input")
	}
	if len(data) > MaxInputSize {
		return "", fmt.Errorf("input exceeds %d bytes", MaxInputSize)
	}
	return string(data), nil
}

// watchRender redraws path on every change until interrupted.
func watchRender(ctx context.Context, env *Env, path string, fn renderFunc) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	out := termenv.NewOutput(env.Stdout)
	return watch.Watch(ctx, path, watch.DefaultDebounce, func(text string) {
		rendered, err := fn(text)
		if env.Interactive {
			out.ClearScreen()
		} else {
			fmt.Fprintln(env.Stdout, RenderSeparator())
		}
		if err != nil {
			DisplayError(env.Stderr, err, false)
			return
		}
		fmt.Fprintln(env.Stdout, strings.TrimRight(rendered, "\n"))
		if env.Interactive {
			fmt.Fprintln(env.Stdout, DimStyle.Render(fmt.Sprintf("watching %s (%s) - Ctrl+C to stop", path, time.Now().Format("15:04:05"))))
		}
	})
}

// watchRenderToFile keeps output current with path, for example an HTML
// page open in a browser.
func watchRenderToFile(ctx context.Context, env *Env, path, output string, fn renderFunc) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintf(env.Stderr, "watching %s -> %s (Ctrl+C to stop)\n", path, output)
	return watch.Watch(ctx, path, watch.DefaultDebounce, func(text string) {
		rendered, err := fn(text)
		if err == nil {
			err = writeOutput(output, rendered)
		}
		if err != nil {
			DisplayError(env.Stderr, err, false)
			return
		}
		log.Printf("RENDER_WRITE | source=%s output=%s bytes=%d", path, output, len(rendered))
	})
}
