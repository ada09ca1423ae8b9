//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/leo-pe2/ai-chat-main/internal/auth"
	"github.com/leo-pe2/ai-chat-main/internal/chats"
	"github.com/leo-pe2/ai-chat-main/internal/gateway"
	"github.com/leo-pe2/ai-chat-main/internal/identity"
	"github.com/leo-pe2/ai-chat-main/internal/middleware"
	"github.com/leo-pe2/ai-chat-main/internal/notify"
	"github.com/leo-pe2/ai-chat-main/internal/provider"
	"github.com/leo-pe2/ai-chat-main/internal/session"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:5173"

type fakeResponder struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeResponder) Respond(_ context.Context, prompt string, _ provider.ModelID, _ []provider.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if strings.HasPrefix(prompt, "Create a very short chat name") {
		return "Simple Math", nil
	}
	return f.reply, nil
}

func (f *fakeResponder) Supports(id provider.ModelID) bool {
	for _, m := range provider.Catalog() {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testServer struct {
	router    http.Handler
	auth      *auth.Service
	responder *fakeResponder
}

func newTestServer(t *testing.T, exposeDetails bool) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	broker := notify.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	a := auth.NewService(repo)
	reg := session.NewRegistry(a, nil)
	responder := &fakeResponder{reply: "4"}
	gw := gateway.New(responder)
	svc := chats.NewService(repo, broker, chats.WithGateway(gw))

	base := NewHandler(exposeDetails, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(reg))
	NewChatHandler(base, gw).RegisterRoutes(r, middleware.CORS([]string{testOrigin}, http.MethodPost), identity.RefuseUnverified)
	NewChatsHandler(base, svc, nil, []string{testOrigin}).RegisterRoutes(r, identity.RequireVerified)
	NewAuthHandler(base, a, reg).RegisterRoutes(r)

	return &testServer{router: r, auth: a, responder: responder}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) signUp(t *testing.T, email string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// logIn signs an existing account in and returns the response.
func (s *testServer) logIn(t *testing.T, email, password string) signInResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp signInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// signIn registers a fresh account and returns a verified token.
func (s *testServer) signIn(t *testing.T, email string) string {
	t.Helper()
	s.signUp(t, email)
	resp := s.logIn(t, email, "password123")
	require.Equal(t, "verified", resp.State)
	return resp.Session.Token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got), w.Body.String())
	return got
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestChatUnknownModel(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/chat", "", map[string]interface{}{
		"prompt": "Hello", "model": "gpt-5", "history": []interface{}{},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Unknown model selected" {
		t.Errorf("Expected error %q, got %v", "Unknown model selected", got)
	}
	if n := s.responder.callCount(); n != 0 {
		t.Errorf("Expected no provider call, got %d", n)
	}
}

func TestChatAnswers(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/chat", "", map[string]interface{}{
		"prompt": "What is 2+2?", "model": "4o-mini",
		"history": []map[string]string{{"sender": "user", "text": "Hi"}, {"sender": "bot", "text": "Hello"}},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "4", decodeBody(t, w)["response"])
}

func TestChatRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	cause := &provider.ProviderError{Kind: provider.KindUpstream, Provider: "openai", Status: http.StatusTooManyRequests, Message: "rate limited"}

	for _, expose := range []bool{false, true} {
		t.Run(fmt.Sprintf("expose=%v", expose), func(t *testing.T) {
			s := newTestServer(t, expose)
			s.responder.err = cause

			w := s.do(t, http.MethodPost, "/api/chat", "", map[string]interface{}{"prompt": "Hi", "model": "4o-mini"})

			require.Equal(t, http.StatusBadGateway, w.Code)
			body := decodeBody(t, w)
			require.Equal(t, "Failed to generate response", body["error"])
			_, hasDetails := body["details"]
			require.Equal(t, expose, hasDetails)
			if expose {
				require.Contains(t, body["details"], "rate limited")
			}
		})
	}
}

func TestChatCORSPreflightAllowsOnlyPost(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	get := s.do(t, http.MethodGet, "/api/chat", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, get.Code)
}

func TestChatRefusesUnknownToken(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/chat", "bogus", map[string]interface{}{"prompt": "Hi", "model": "4o-mini"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFailMapping(t *testing.T) {
	h := NewHandler(false, nil)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"client error", &gateway.ClientError{Message: "Unknown model selected"}, http.StatusBadRequest},
		{"upstream", &gateway.UpstreamError{Model: "4o-mini", Err: errors.New("boom")}, http.StatusBadGateway},
		{"empty message", chats.ErrEmptyMessage, http.StatusBadRequest},
		{"chat not found", chats.ErrNotFound, http.StatusNotFound},
		{"row not found", fmt.Errorf("save: %w", store.ErrNotFound), http.StatusNotFound},
		{"busy", errors.New("database is locked (SQLITE_BUSY)"), http.StatusConflict},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{"bad code", session.ErrInvalidCode, http.StatusBadRequest},
		{"expired challenge", auth.ErrChallengeExpired, http.StatusBadRequest},
		{"used challenge", auth.ErrChallengeConsumed, http.StatusBadRequest},
		{"email taken", auth.ErrEmailTaken, http.StatusConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.fail(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}
