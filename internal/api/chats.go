package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/leo-pe2/ai-chat-main/internal/chats"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/identity"
	"github.com/leo-pe2/ai-chat-main/internal/notify"
)

// ChatService is the ownership-checked chat store.
type ChatService interface {
	List(ctx context.Context, userID string) ([]*domain.Chat, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	Create(ctx context.Context, userID, title string) (*domain.Chat, error)
	SaveContent(ctx context.Context, userID, chatID string, content []domain.Message) error
	SetTitleAndReveal(ctx context.Context, userID, chatID, title string) error
	SoftDelete(ctx context.Context, userID, chatID string) error
	Send(ctx context.Context, userID, chatID string, req chats.SendRequest) (*domain.Chat, error)
	Subscribe(ctx context.Context, userID string) (*notify.Subscription, error)
}

// ChatsHandler serves the persisted-chat endpoints.
type ChatsHandler struct {
	*Handler
	svc      ChatService
	throttle Middleware
	hosts    []string
}

// NewChatsHandler creates a chats handler. throttle, if set, guards message
// sends; origins restricts the websocket handshake.
func NewChatsHandler(base *Handler, svc ChatService, throttle Middleware, origins []string) *ChatsHandler {
	return &ChatsHandler{Handler: base, svc: svc, throttle: throttle, hosts: originHosts(origins)}
}

// originHosts turns allowed origins into the host patterns the websocket
// handshake matches against.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// RegisterRoutes registers the /api/chats routes behind mw.
func (h *ChatsHandler) RegisterRoutes(r chi.Router, mw ...Middleware) {
	r.Route("/api/chats", func(r chi.Router) {
		r.Use(mw...)
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/changes", h.Changes)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Put("/content", h.SaveContent)
			r.Put("/title", h.SetTitle)
			if h.throttle != nil {
				r.With(h.throttle).Post("/messages", h.Send)
			} else {
				r.Post("/messages", h.Send)
			}
		})
	})
}

// List returns the caller's visible chats.
func (h *ChatsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

// Create starts a chat. Without a title it stays hidden until the first
// message names it.
func (h *ChatsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}

	chat, err := h.svc.Create(r.Context(), identity.UserIDFromContext(r.Context()), body.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, chat)
}

// Get returns one chat with its full conversation.
func (h *ChatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.svc.Get(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chat)
}

// SaveContent replaces the conversation.
func (h *ChatsHandler) SaveContent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content []domain.Message `json:"content"`
	}
	if !decode(w, r, &body) {
		return
	}
	for _, m := range body.Content {
		if !m.Sender.Valid() {
			Error(w, http.StatusBadRequest, "invalid message sender")
			return
		}
	}
	if body.Content == nil {
		body.Content = []domain.Message{}
	}

	err := h.svc.SaveContent(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "chatID"), body.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetTitle names a chat and makes it visible.
func (h *ChatsHandler) SetTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Title == "" {
		Error(w, http.StatusBadRequest, "title cannot be empty")
		return
	}

	err := h.svc.SetTitleAndReveal(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "chatID"), body.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete soft-deletes a chat.
func (h *ChatsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.SoftDelete(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send appends a user message and the model's answer.
func (h *ChatsHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req chats.SendRequest
	if !decode(w, r, &req) {
		return
	}

	chat, err := h.svc.Send(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "chatID"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chat)
}

// Changes streams one text frame per change to the caller's chats until
// either side hangs up. The caller's standing is re-checked before every
// frame; a session that signed out or now owes a second factor ends the
// stream with a policy-violation close.
func (h *ChatsHandler) Changes(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	m := identity.MachineFromContext(r.Context())
	if m == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.svc.Subscribe(ctx, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.hosts,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	status, reason := websocket.StatusNormalClosure, "stream ended"
	defer func() {
		if closeErr := ws.Close(status, reason); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	// The client never sends; CloseRead cancels ctx once it disconnects.
	ctx = ws.CloseRead(ctx)
	h.logger.Info("Change stream opened", "user_id", userID)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Change stream closed", "user_id", userID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := m.Evaluate(ctx); err != nil {
				h.logger.Warn("Failed to re-check change stream session", "error", err, "user_id", userID)
				status, reason = websocket.StatusInternalError, "session check failed"
				return
			}
			if err := m.Gate(); err != nil {
				h.logger.Info("Change stream revoked", "user_id", userID, "reason", err)
				status, reason = websocket.StatusPolicyViolation, err.Error()
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to encode change event", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("Change stream write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}
