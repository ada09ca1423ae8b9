// Package gateway turns chat requests into provider calls, with optional
// web-search augmentation, failure reporting, and request metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/provider"
	"github.com/leo-pe2/ai-chat-main/internal/search"
	"github.com/leo-pe2/ai-chat-main/internal/telemetry"
)

// Responder dispatches a prompt to a model.
type Responder interface {
	Respond(ctx context.Context, prompt string, id provider.ModelID, history []provider.Turn) (string, error)
	Supports(id provider.ModelID) bool
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Prompt  string           `json:"prompt"`
	Model   provider.ModelID `json:"model"`
	History []domain.Message `json:"history"`
	Search  bool             `json:"search,omitempty"`
}

// ChatResponse is the answer to a successful chat call.
type ChatResponse struct {
	Response string `json:"response"`
}

// Gateway is stateless across requests and safe for concurrent use.
type Gateway struct {
	responder Responder
	searcher  search.Searcher
	sink      telemetry.Sink
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSearcher enables search augmentation.
func WithSearcher(s search.Searcher) Option {
	return func(g *Gateway) { g.searcher = s }
}

// WithSink sets where provider failures are reported.
func WithSink(s telemetry.Sink) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithMetrics records request outcomes in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway over responder.
func New(responder Responder, opts ...Option) *Gateway {
	g := &Gateway{
		responder: responder,
		sink:      telemetry.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleChatRequest answers one chat call. Validation failures return a
// *ClientError; provider failures are reported and returned as
// *UpstreamError.
func (g *Gateway) HandleChatRequest(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &ClientError{Message: provider.ErrEmptyPrompt.Error(), Err: provider.ErrEmptyPrompt}
	}
	if !g.responder.Supports(req.Model) {
		g.metrics.ObserveChat(string(req.Model), "rejected", 0)
		return nil, &ClientError{Message: provider.ErrUnknownModel.Error(), Err: provider.ErrUnknownModel}
	}

	prompt := req.Prompt
	if req.Search && g.searcher != nil {
		if found := g.searcher.Search(ctx, req.Prompt); found != "" {
			prompt = augmentPrompt(found, req.Prompt)
		}
	}

	start := time.Now()
	text, err := g.respond(ctx, prompt, req.Model, provider.TurnsFromMessages(req.History))
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, provider.ErrEmptyPrompt) || errors.Is(err, provider.ErrUnknownModel) {
			return nil, &ClientError{Message: err.Error(), Err: err}
		}
		g.metrics.ObserveChat(string(req.Model), "error", latency)
		g.logger.Error("[GATEWAY] Provider call failed",
			"model", req.Model,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		g.sink.Report(fmt.Sprintf("Error in /api/chat (%s): %v", req.Model, err))
		return nil, &UpstreamError{Model: string(req.Model), Err: err}
	}

	g.metrics.ObserveChat(string(req.Model), "ok", latency)
	g.logger.Info("[GATEWAY] Response sent",
		"model", req.Model,
		"history_len", len(req.History),
		"prompt_len", len(prompt),
		"response_len", len(text),
		"latency_ms", latency.Milliseconds(),
	)
	return &ChatResponse{Response: text}, nil
}

// respond calls the provider, turning a panic into an error.
func (g *Gateway) respond(ctx context.Context, prompt string, id provider.ModelID, history []provider.Turn) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return g.responder.Respond(ctx, prompt, id, history)
}

func augmentPrompt(found, prompt string) string {
	return "Here is some information:\n\"" + found +
		"\"\n\nSummarize the topic in depth and respond in the same language as this query: \"" + prompt + "\"."
}

// Supports reports whether id names a model the gateway can serve.
func (g *Gateway) Supports(id provider.ModelID) bool {
	return g.responder.Supports(id)
}
