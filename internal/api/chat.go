package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leo-pe2/ai-chat-main/internal/gateway"
)

// ChatGateway answers one stateless chat call.
type ChatGateway interface {
	HandleChatRequest(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)
}

// ChatHandler serves the stateless gateway endpoint.
type ChatHandler struct {
	*Handler
	gw ChatGateway
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler, gw ChatGateway) *ChatHandler {
	return &ChatHandler{Handler: base, gw: gw}
}

// RegisterRoutes registers POST /api/chat behind mw.
func (h *ChatHandler) RegisterRoutes(r chi.Router, mw ...Middleware) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/", h.Chat)
	})
}

// Chat forwards a prompt and its history to the selected model.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.gw.HandleChatRequest(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
