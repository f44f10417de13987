// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/chatmark/internal/cache"
	"github.com/jeranaias/chatmark/internal/client"
	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/session"
	"github.com/jeranaias/chatmark/internal/storage"
	"github.com/jeranaias/chatmark/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8787

	// DefaultRatePerMinute is the per-IP request budget.
	DefaultRatePerMinute = 120

	// MaxRequestBodySize bounds request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length of a chat message or render text.
	MaxMessageLength = 100000

	// DefaultListLimit is used when /api/conversations has no limit.
	DefaultListLimit = 50

	// Version is the server version.
	Version = "1.0.0"
)

// Backend sends a conversation to the AI service. *client.Client implements it.
type Backend interface {
	Send(ctx context.Context, modelName string, history []*model.Message) (*client.Reply, error)
	IsConfigured() bool
}

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks server usage.
type Stats struct {
	Renders       atomic.Int64
	Chats         atomic.Int64
	BackendErrors atomic.Int64
	StartTime     time.Time
}

// StatsResponse represents the usage statistics response.
type StatsResponse struct {
	Renders       int64       `json:"renders"`
	Chats         int64       `json:"chats"`
	BackendErrors int64       `json:"backend_errors"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Cache         cache.Stats `json:"cache"`
	CacheHitRate  float64     `json:"cache_hit_rate"`
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API behind the web client.
type Server struct {
	port   int
	router *http.ServeMux
	server *http.Server

	store   *storage.Store
	backend Backend
	auth    *session.Manager
	blocks  *cache.Blocks
	html    *render.HTML
	model   string

	ratePerMin int
	limiter    *RateLimiter
	origins    []string
	verbose    bool

	stats *Stats
	mu    sync.RWMutex
}

// NewServer creates a new Server with the specified port.
// If port is 0, the default port (8787) is used.
func NewServer(port int) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:       port,
		router:     http.NewServeMux(),
		blocks:     cache.New(cache.DefaultCapacity),
		html:       render.NewHTML(render.Options{}),
		ratePerMin: DefaultRatePerMinute,
		stats:      &Stats{StartTime: time.Now()},
	}

	s.setupRoutes()
	return s
}

// WithStore sets the conversation store.
func (s *Server) WithStore(store *storage.Store) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	return s
}

// WithBackend sets the AI backend and the default model name.
func (s *Server) WithBackend(b Backend, modelName string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
	s.model = modelName
	return s
}

// WithSession enables bearer authentication through mgr.
func (s *Server) WithSession(mgr *session.Manager) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = mgr
	return s
}

// WithCache replaces the parsed-block cache.
func (s *Server) WithCache(c *cache.Blocks) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		s.blocks = c
	}
	return s
}

// WithRenderOptions sets the code style used for HTML output.
func (s *Server) WithRenderOptions(opts render.Options) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = render.NewHTML(opts)
	return s
}

// WithRateLimit sets the per-IP request budget. 0 disables limiting.
func (s *Server) WithRateLimit(perMinute int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratePerMin = perMinute
	return s
}

// WithCORS sets the origins allowed to call the API from a browser.
func (s *Server) WithCORS(origins []string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins = append([]string(nil), origins...)
	return s
}

// WithVerbose enables per-request logging.
func (s *Server) WithVerbose(verbose bool) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verbose = verbose
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/login", s.handleLogin)
	s.router.HandleFunc("POST /api/logout", s.handleLogout)
	s.router.HandleFunc("POST /api/render", s.handleRender)
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.router.HandleFunc("GET /api/stats", s.handleStats)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter == nil {
		s.limiter = NewRateLimiter(s.ratePerMin)
	}

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
	}
	if s.verbose {
		middlewares = append(middlewares, LoggingMiddleware(log.Default()))
	}
	if len(s.origins) > 0 {
		middlewares = append(middlewares, CORSMiddleware(DefaultCORSConfig(s.origins)))
	}
	middlewares = append(middlewares,
		RateLimitMiddleware(s.limiter),
		AuthMiddleware(s.auth, "/health", "/api/login"),
	)

	return Chain(middlewares...)(s.router)
}

// ============================================================================
// WIRE TYPES
// ============================================================================

// ============================================================================
// AUTH HANDLERS
// ============================================================================

type loginRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.mu.RLock()
	mgr := s.auth
	s.mu.RUnlock()
	if mgr == nil || !mgr.Enabled() {
		writeError(w, http.StatusNotFound, "authentication is not configured")
		return
	}

	token, err := mgr.Login(req.Password, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrMFARequired):
		writeError(w, http.StatusUnauthorized, "authenticator code required")
		return
	case errors.Is(err, session.ErrLocked):
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	default:
		log.Printf("LOGIN_ERROR | error=%v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		SessionID: mgr.SessionID(),
		ExpiresIn: int(mgr.RemainingTime().Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	mgr := s.auth
	s.mu.RUnlock()
	if mgr != nil {
		mgr.Logout()
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// RENDER HANDLER
// ============================================================================

type renderRequest struct {
	Text   string `json:"text"`
	Format string `json:"format"`
}

type renderResponse struct {
	Format string             `json:"format"`
	Blocks []render.BlockJSON `json:"blocks,omitempty"`
	HTML   string             `json:"html,omitempty"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Text) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds maximum length of %d", MaxMessageLength))
		return
	}

	blocks := s.blocks.Parse(util.Normalize(req.Text))
	s.stats.Renders.Add(1)

	switch strings.ToLower(req.Format) {
	case "", "json":
		writeJSON(w, http.StatusOK, renderResponse{Format: "json", Blocks: render.EncodeBlocks(blocks)})
	case "html":
		s.mu.RLock()
		h := s.html
		s.mu.RUnlock()
		out, err := h.Render(blocks)
		if err != nil {
			log.Printf("RENDER_ERROR | format=html error=%v", err)
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}
		writeJSON(w, http.StatusOK, renderResponse{Format: "html", HTML: out})
	default:
		writeError(w, http.StatusBadRequest, "format must be json or html")
	}
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Model          string `json:"model"`
}

type chatResponse struct {
	ConversationID string             `json:"conversation_id"`
	Title          string             `json:"title"`
	Message        render.MessageJSON `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}
	if len(content) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("content exceeds maximum length of %d", MaxMessageLength))
		return
	}

	s.mu.RLock()
	store, backend, defaultModel := s.store, s.backend, s.model
	s.mu.RUnlock()

	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage unavailable")
		return
	}
	if backend == nil || !backend.IsConfigured() {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	ctx := r.Context()
	modelName := req.Model
	if modelName == "" {
		modelName = defaultModel
	}

	var conv *model.Conversation
	if req.ConversationID != "" {
		loaded, err := store.LoadConversation(ctx, req.ConversationID)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			log.Printf("STORAGE_ERROR | op=load conversation=%s error=%v", req.ConversationID, err)
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
			return
		}
		conv = loaded
	} else {
		conv = model.NewConversation(modelName)
		if err := store.SaveConversation(ctx, conv); err != nil {
			log.Printf("STORAGE_ERROR | op=create error=%v", err)
			writeError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
	}

	userMsg := model.NewUserMessage(content)
	if err := store.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		log.Printf("STORAGE_ERROR | op=append conversation=%s error=%v", conv.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	conv.AddMessage(userMsg)

	reply, err := backend.Send(ctx, modelName, conv.Messages)
	if err != nil {
		s.stats.BackendErrors.Add(1)
		log.Printf("BACKEND_ERROR | conversation=%s error=%v", conv.ID, err)
		status, msg := backendErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	assistant := reply.Message()
	if err := store.AppendMessage(ctx, conv.ID, assistant); err != nil {
		log.Printf("STORAGE_ERROR | op=append conversation=%s error=%v", conv.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store reply")
		return
	}
	conv.AddMessage(assistant)
	s.stats.Chats.Add(1)

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID,
		Title:          conv.GetTitle(),
		Message:        render.EncodeMessage(assistant, s.blocks),
	})
}

// backendErrorStatus maps a backend failure to a client-safe response.
func backendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests, "backend rate limit reached, try again later"
	case errors.Is(err, client.ErrAuthFailed):
		return http.StatusBadGateway, "backend rejected the API key"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "backend timed out"
	default:
		return http.StatusBadGateway, "backend request failed"
	}
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

func (s *Server) storeOrUnavailable(w http.ResponseWriter) *storage.Store {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage unavailable")
	}
	return store
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	store := s.storeOrUnavailable(w)
	if store == nil {
		return
	}

	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		metas []model.ConversationMeta
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		metas, err = store.Search(r.Context(), q)
		if len(metas) > limit {
			metas = metas[:limit]
		}
	} else {
		metas, err = store.ListConversations(r.Context(), limit)
	}
	if err != nil {
		log.Printf("STORAGE_ERROR | op=list error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": metas})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	store := s.storeOrUnavailable(w)
	if store == nil {
		return
	}

	id := r.PathValue("id")
	conv, err := store.LoadConversation(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		log.Printf("STORAGE_ERROR | op=load conversation=%s error=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		out := render.EncodeConversation(conv, s.blocks)
		writeJSON(w, http.StatusOK, out)
	case "html":
		page, err := s.conversationPage(conv)
		if err != nil {
			log.Printf("RENDER_ERROR | format=html conversation=%s error=%v", id, err)
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, page)
	default:
		writeError(w, http.StatusBadRequest, "format must be json or html")
	}
}

// conversationPage renders every message into one standalone HTML page.
func (s *Server) conversationPage(conv *model.Conversation) (string, error) {
	s.mu.RLock()
	h := s.html
	s.mu.RUnlock()
	return h.Conversation(conv, s.blocks)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	store := s.storeOrUnavailable(w)
	if store == nil {
		return
	}

	err := store.DeleteConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		log.Printf("STORAGE_ERROR | op=delete error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// HEALTH AND STATS HANDLERS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	BackendStatus string `json:"backend_status"`
	StorageStatus string `json:"storage_status"`
	AuthEnabled   bool   `json:"auth_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	store, backend, mgr := s.store, s.backend, s.auth
	s.mu.RUnlock()

	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		BackendStatus: "not_configured",
		StorageStatus: "not_configured",
		AuthEnabled:   mgr != nil && mgr.Enabled(),
	}

	if backend != nil && backend.IsConfigured() {
		health.BackendStatus = "configured"
	}
	if store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := store.ListConversations(ctx, 1); err != nil {
			health.StorageStatus = "unavailable"
			health.Status = "degraded"
		} else {
			health.StorageStatus = "ok"
		}
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cs := s.blocks.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		Renders:       s.stats.Renders.Load(),
		Chats:         s.stats.Chats.Load(),
		BackendErrors: s.stats.BackendErrors.Load(),
		UptimeSeconds: int64(time.Since(s.stats.StartTime).Seconds()),
		Cache:         cs,
		CacheHitRate:  cs.HitRate(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on 127.0.0.1 and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	limiter := s.limiter
	s.mu.RUnlock()
	if limiter != nil {
		limiter.Close()
	}

	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// decodeJSON reads a bounded JSON body into v, writing the error response
// itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		log.Printf("INVALID_REQUEST | path=%s error=%v", r.URL.Path, err)
		writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
