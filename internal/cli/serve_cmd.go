// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/server"
	"github.com/jeranaias/chatmark/internal/session"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// HandleServe handles "chatmark serve": the local HTTP API for the web client.
func HandleServe(ctx context.Context, args Args, env *Env) error {
	cfg := env.Config
	p := NewArgParser(args.Raw)

	port, err := p.FlagInt("port", cfg.Server.Port)
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return NewValidationError("--port", fmt.Sprint(port), "must be between 1 and 65535")
	}

	// A server is useless without its request log.
	if cfg.Log.File == "" {
		log.SetOutput(env.Stderr)
	}

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	defer store.Close()

	modelName := args.Model
	if modelName == "" {
		modelName = cfg.Backend.Model
	}
	backend := newBackend(cfg.Backend, modelName)
	if !backend.IsConfigured() && !args.Quiet {
		fmt.Fprintf(env.Stderr, "%s no backend API key; /api/chat will return 503\n", WarningStyle.Render("[WARN]"))
	}

	auth := session.NewManager(session.Config{
		PasswordHash: cfg.Session.PasswordHash,
		TOTPSecret:   cfg.Session.TOTPSecret,
		Timeout:      time.Duration(cfg.Session.TimeoutMins) * time.Minute,
	})
	if cfg.Session.PasswordHash == "" && !args.Quiet {
		fmt.Fprintf(env.Stderr, "%s no session.password_hash; authentication is disabled (run `chatmark passwd`)\n", WarningStyle.Render("[WARN]"))
	}

	srv := server.NewServer(port).
		WithStore(store).
		WithBackend(backend, modelName).
		WithSession(auth).
		WithCache(newBlockCache(cfg)).
		WithRenderOptions(render.Options{CodeStyle: cfg.Render.CodeStyle, ThemeMode: cfg.Render.Theme}).
		WithRateLimit(cfg.Server.RatePerMin).
		WithCORS(cfg.Server.AllowedOrigins).
		WithVerbose(args.Verbose || cfg.Log.Verbose)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if !args.Quiet {
		fmt.Fprintf(env.Stdout, "%s listening on http://127.0.0.1:%d (Ctrl+C to stop)\n", RenderStatus("ok"), port)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return WrapError(err, "serve")
		}
		return nil
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapError(err, "shutdown")
	}
	if err := <-errCh; err != nil {
		return WrapError(err, "serve")
	}
	if !args.Quiet {
		fmt.Fprintln(env.Stdout, DimStyle.Render("Server stopped."))
	}
	return nil
}
