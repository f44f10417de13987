// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatmark/internal/client"
	"github.com/jeranaias/chatmark/internal/model"
	"github.com/jeranaias/chatmark/internal/render"
	"github.com/jeranaias/chatmark/internal/session"
	"github.com/jeranaias/chatmark/internal/storage"
)

// fakeBackend answers every Send with a fixed reply and records the history.
type fakeBackend struct {
	mu         sync.Mutex
	reply      string
	err        error
	configured bool
	histories  [][]*model.Message
	models     []string
}

func (f *fakeBackend) Send(ctx context.Context, modelName string, history []*model.Message) (*client.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, append([]*model.Message(nil), history...))
	f.models = append(f.models, modelName)
	if f.err != nil {
		return nil, f.err
	}
	return &client.Reply{Content: f.reply, CompletionTokens: 5}, nil
}

func (f *fakeBackend) IsConfigured() bool { return f.configured }

func newTestServer(t *testing.T) (*Server, *fakeBackend, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := &fakeBackend{reply: "ANSWER\n- first\n- second", configured: true}
	s := NewServer(0).
		WithStore(store).
		WithBackend(backend, "test-model").
		WithRateLimit(0)
	return s, backend, store
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	return decodeBody[map[string]string](t, rr)["error"]
}

// =============================================================================
// HEALTH AND HEADERS
// =============================================================================

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	health := decodeBody[HealthResponse](t, rr)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, Version, health.Version)
	require.Equal(t, "configured", health.BackendStatus)
	require.Equal(t, "ok", health.StorageStatus)
	require.False(t, health.AuthEnabled)
}

func TestHealth_NothingConfigured(t *testing.T) {
	rr := doRequest(t, NewServer(0).Handler(), http.MethodGet, "/health", nil)
	health := decodeBody[HealthResponse](t, rr)
	require.Equal(t, "not_configured", health.BackendStatus)
	require.Equal(t, "not_configured", health.StorageStatus)
}

func TestSecurityHeaders(t *testing.T) {
	rr := doRequest(t, NewServer(0).Handler(), http.MethodGet, "/health", nil)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestMethodNotAllowed(t *testing.T) {
	rr := doRequest(t, NewServer(0).Handler(), http.MethodGet, "/api/render", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// =============================================================================
// RENDER
// =============================================================================

func TestRender_JSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/render", map[string]string{
		"text": "TITLE\n\nUse **bold** here.\n[x] done",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[renderResponse](t, rr)
	require.Equal(t, "json", resp.Format)
	require.Len(t, resp.Blocks, 3)
	require.Equal(t, "heading", resp.Blocks[0].Type)
	require.Equal(t, "paragraph", resp.Blocks[1].Type)
	require.Equal(t, "checklist_item", resp.Blocks[2].Type)
	require.NotNil(t, resp.Blocks[2].Checked)
	require.True(t, *resp.Blocks[2].Checked)
}

func TestRender_HTML(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/render", map[string]string{
		"text":   "Click [here](javascript:alert(1)) <b>now</b>",
		"format": "html",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[renderResponse](t, rr)
	require.Equal(t, "html", resp.Format)
	require.Contains(t, resp.HTML, "<p>")
	require.Contains(t, resp.HTML, "&lt;b&gt;")
	require.NotContains(t, resp.HTML, "javascript:")
}

func TestRender_Errors(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", "{not json", http.StatusBadRequest},
		{"bad format", `{"text": "x", "format": "pdf"}`, http.StatusBadRequest},
		{"too long", `{"text": "` + strings.Repeat("a", MaxMessageLength+1) + `"}`, http.StatusBadRequest},
		{"body too large", `{"text": "` + strings.Repeat("a", MaxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tt.status, rr.Code)
			require.NotEmpty(t, errorMessage(t, rr))
		})
	}
}

func TestStats_CountsRenders(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	for i := 0; i < 2; i++ {
		doRequest(t, h, http.MethodPost, "/api/render", map[string]string{"text": "same text"})
	}

	stats := decodeBody[StatsResponse](t, doRequest(t, h, http.MethodGet, "/api/stats", nil))
	require.Equal(t, int64(2), stats.Renders)
	require.Equal(t, int64(1), stats.Cache.Hits)
	require.Equal(t, int64(1), stats.Cache.Misses)
}

// =============================================================================
// CHAT AND CONVERSATIONS
// =============================================================================

func TestChat_NewConversationAndFollowUp(t *testing.T) {
	s, backend, store := newTestServer(t)
	h := s.Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"content": "Give me a list"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	first := decodeBody[chatResponse](t, rr)
	require.NotEmpty(t, first.ConversationID)
	require.Equal(t, "Give me a list", first.Title)
	require.Equal(t, "assistant", first.Message.Role)
	require.Len(t, first.Message.Blocks, 2)
	require.Equal(t, "bullet_list", first.Message.Blocks[1].Type)

	rr = doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{
		"conversation_id": first.ConversationID,
		"content":         "And another",
		"model":           "other-model",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, backend.histories, 2)
	require.Len(t, backend.histories[1], 3, "follow-up sends the full history")
	require.Equal(t, []string{"test-model", "other-model"}, backend.models)

	conv, err := store.LoadConversation(context.Background(), first.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	require.Equal(t, 5, conv.Messages[1].TokenCount)
}

func TestChat_Errors(t *testing.T) {
	s, backend, _ := newTestServer(t)
	h := s.Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"content": "   "})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"conversation_id": "conv_missing", "content": "hi"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	backend.err = &client.APIError{Status: http.StatusTooManyRequests, Message: "slow"}
	rr = doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	backend.err = &client.APIError{Status: http.StatusUnauthorized, Message: "bad key sk-123"}
	rr = doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.NotContains(t, rr.Body.String(), "sk-123")

	backend.configured = false
	rr = doRequest(t, h, http.MethodPost, "/api/chat", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestChat_NoStore(t *testing.T) {
	s := NewServer(0).WithBackend(&fakeBackend{configured: true}, "")
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func seedConversation(t *testing.T, store *storage.Store, title, reply string) *model.Conversation {
	t.Helper()
	conv := model.NewConversation("m")
	conv.AddUserMessage("question about " + title)
	conv.AddAssistantMessage(reply)
	conv.Title = title
	require.NoError(t, store.SaveConversation(context.Background(), conv))
	return conv
}

func TestListAndSearchConversations(t *testing.T) {
	s, _, store := newTestServer(t)
	h := s.Handler()

	seedConversation(t, store, "Pancake recipe", "Flour and eggs")
	time.Sleep(time.Millisecond)
	seedConversation(t, store, "Server setup", "Install the binary")

	type listResponse struct {
		Conversations []model.ConversationMeta `json:"conversations"`
	}

	list := decodeBody[listResponse](t, doRequest(t, h, http.MethodGet, "/api/conversations", nil))
	require.Len(t, list.Conversations, 2)
	require.Equal(t, "Server setup", list.Conversations[0].Title)

	found := decodeBody[listResponse](t, doRequest(t, h, http.MethodGet, "/api/conversations?q=pancake", nil))
	require.Len(t, found.Conversations, 1)
	require.Equal(t, "Pancake recipe", found.Conversations[0].Title)

	limited := decodeBody[listResponse](t, doRequest(t, h, http.MethodGet, "/api/conversations?limit=1", nil))
	require.Len(t, limited.Conversations, 1)

	rr := doRequest(t, h, http.MethodGet, "/api/conversations?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetConversation_JSONAndHTML(t *testing.T) {
	s, _, store := newTestServer(t)
	h := s.Handler()
	conv := seedConversation(t, store, "Tables", "| A | B |\n|---|---|\n| 1 | 2 |")

	rr := doRequest(t, h, http.MethodGet, "/api/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[render.ConversationJSON](t, rr)
	require.Equal(t, "Tables", got.Title)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "paragraph", got.Messages[0].Blocks[0].Type, "user text is one paragraph")
	require.Equal(t, "table", got.Messages[1].Blocks[0].Type)

	rr = doRequest(t, h, http.MethodGet, "/api/conversations/"+conv.ID+"?format=html", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	require.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
	require.Contains(t, body, "<title>Tables</title>")
	require.Contains(t, body, "<table>")
	require.Contains(t, body, `class="message assistant"`)

	rr = doRequest(t, h, http.MethodGet, "/api/conversations/"+conv.ID+"?format=pdf", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/api/conversations/conv_nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteConversation(t *testing.T) {
	s, _, store := newTestServer(t)
	h := s.Handler()
	conv := seedConversation(t, store, "Bye", "ok")

	rr := doRequest(t, h, http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, h, http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// AUTH
// =============================================================================

func newAuthServer(t *testing.T) (http.Handler, *session.Manager) {
	t.Helper()
	hash, err := session.HashPassword("correct horse")
	require.NoError(t, err)
	mgr := session.NewManager(session.Config{PasswordHash: hash, Timeout: time.Minute})

	s, _, _ := newTestServer(t)
	s.WithSession(mgr)
	return s.Handler(), mgr
}

func TestAuth_RequiresToken(t *testing.T) {
	h, _ := newAuthServer(t)

	rr := doRequest(t, h, http.MethodPost, "/api/render", map[string]string{"text": "x"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "authentication required", errorMessage(t, rr))

	rr = doRequest(t, h, http.MethodPost, "/api/render", map[string]string{"text": "x"}, "Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code, "health is public")
}

func TestAuth_LoginFlow(t *testing.T) {
	h, mgr := newAuthServer(t)

	rr := doRequest(t, h, http.MethodPost, "/api/login", map[string]string{"password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/api/login", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusOK, rr.Code)
	login := decodeBody[loginResponse](t, rr)
	require.NotEmpty(t, login.Token)
	require.True(t, strings.HasPrefix(login.SessionID, "sess_"))
	require.Equal(t, 60, login.ExpiresIn)

	auth := []string{"Authorization", "Bearer " + login.Token}
	rr = doRequest(t, h, http.MethodPost, "/api/render", map[string]string{"text": "x"}, auth...)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("X-Session-Expires-In"))

	rr = doRequest(t, h, http.MethodPost, "/api/logout", nil, auth...)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, mgr.SessionID())

	rr = doRequest(t, h, http.MethodPost, "/api/render", map[string]string{"text": "x"}, auth...)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "no active session", errorMessage(t, rr))
}

func TestLogin_NotConfigured(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/login", map[string]string{"password": "x"})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestRateLimitMiddleware(t *testing.T) {
	s := NewServer(0).WithRateLimit(3)
	h := s.Handler()
	defer s.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		rr := doRequest(t, h, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}
	rr := doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "20", rr.Header().Get("Retry-After"))
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Close()

	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.2"))

	disabled := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, disabled.Allow("x"))
	}
}

func TestCORS(t *testing.T) {
	s := NewServer(0).WithCORS([]string{"https://app.example.com", "*.trusted.dev"})
	h := s.Handler()

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.example.com", "https://app.example.com"},
		{"https://web.trusted.dev", "https://web.trusted.dev"},
		{"https://evil.com", ""},
	}
	for _, tt := range tests {
		rr := doRequest(t, h, http.MethodOptions, "/api/render", nil, "Origin", tt.origin)
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"), tt.origin)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "internal server error", errorMessage(t, rr))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted proxy ignored", "203.0.113.5:1234", "1.2.3.4", "203.0.113.5"},
		{"trusted proxy honoured", "127.0.0.1:1234", "1.2.3.4, 10.0.0.1", "1.2.3.4"},
		{"garbage header ignored", "127.0.0.1:1234", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			require.Equal(t, tt.want, GetClientIP(req))
		})
	}
}
