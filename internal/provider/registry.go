package provider

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultDeepSeekURL = "https://api.deepseek.com/v1/"

	providerOpenAI     = "openai"
	providerDeepSeek   = "deepseek"
	providerOpenRouter = "openrouter"
	providerGemini     = "gemini"
)

// Config carries everything needed to build the provider clients.
// Empty base URLs select each provider's public endpoint.
type Config struct {
	OpenAIAPIKey     string
	DeepSeekAPIKey   string
	GoogleAPIKey     string
	OpenRouterAPIKey string

	OpenAIBaseURL     string
	DeepSeekBaseURL   string
	OpenRouterBaseURL string
	GeminiBaseURL     string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Catalog returns the supported models in menu order.
func Catalog() []Model {
	return []Model{
		{ID: Model4oMini, Class: ClassStatelessHistory, Provider: providerOpenAI, Upstream: "gpt-4o-mini"},
		{ID: ModelO1Mini, Class: ClassStatelessHistory, Provider: providerOpenAI, Upstream: "o1-mini", NoSystemRole: true},
		{ID: ModelO3Mini, Class: ClassStatelessHistory, Provider: providerOpenRouter, Upstream: "openai/o3-mini"},
		{ID: ModelO3MiniHigh, Class: ClassStatelessHistory, Provider: providerOpenRouter, Upstream: "openai/o3-mini-high"},
		{ID: ModelDeepSeekR1, Class: ClassSingleTurn, Provider: providerDeepSeek, Upstream: "deepseek-reasoner"},
		{ID: ModelGemini, Class: ClassGrounded, Provider: providerGemini, Upstream: "gemini-2.0-flash"},
	}
}

type entry struct {
	model   Model
	adapter Adapter
	order   int
}

// Registry maps model ids to adapters.
type Registry struct {
	mu     sync.RWMutex
	models map[ModelID]entry
}

// NewRegistry builds one client per provider and registers the catalog.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	deepSeekURL := cfg.DeepSeekBaseURL
	if deepSeekURL == "" {
		deepSeekURL = defaultDeepSeekURL
	}

	gemini, err := NewGeminiAdapter(ctx, cfg.GoogleAPIKey, cfg.GeminiBaseURL, client)
	if err != nil {
		return nil, err
	}

	adapters := map[string]Adapter{
		providerOpenAI:     NewOpenAIAdapter(providerOpenAI, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, client),
		providerDeepSeek:   NewOpenAIAdapter(providerDeepSeek, cfg.DeepSeekAPIKey, deepSeekURL, client),
		providerOpenRouter: NewOpenRouterAdapter(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, client),
		providerGemini:     gemini,
	}

	r := &Registry{models: make(map[ModelID]entry)}
	for _, m := range Catalog() {
		r.Register(m, adapters[m.Provider])
	}
	return r, nil
}

// Register binds a model to an adapter, replacing any earlier binding.
func (r *Registry) Register(m Model, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := len(r.models)
	if existing, ok := r.models[m.ID]; ok {
		order = existing.order
	}
	r.models[m.ID] = entry{model: m, adapter: a, order: order}
}

// Lookup returns the model registered under id.
func (r *Registry) Lookup(id ModelID) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[id]
	return e.model, ok
}

// Supports reports whether id names a registered model.
func (r *Registry) Supports(id ModelID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.models))
	for _, e := range r.models {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]Model, len(entries))
	for i, e := range entries {
		out[i] = e.model
	}
	return out
}

// Respond validates the request, shapes history for the model's class,
// and dispatches to its adapter. Validation failures never reach the
// network.
func (r *Registry) Respond(ctx context.Context, prompt string, id ModelID, history []Turn) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	r.mu.RLock()
	e, ok := r.models[id]
	r.mu.RUnlock()
	if !ok || e.adapter == nil {
		return "", ErrUnknownModel
	}

	switch e.model.Class {
	case ClassSingleTurn, ClassGrounded:
		history = nil
	}
	return e.adapter.Respond(ctx, e.model, prompt, history)
}
