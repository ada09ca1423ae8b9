// Package search fetches web context used to ground chat prompts.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultEndpoint = "https://api.tavily.com/search"

// Searcher returns context text for a query. An empty string means
// nothing useful was found.
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// Tavily is a client for the Tavily search API.
type Tavily struct {
	apiKey     string
	endpoint   string
	maxResults int
	client     *http.Client
	logger     *slog.Logger
}

// Option configures a Tavily client.
type Option func(*Tavily)

// WithEndpoint overrides the search URL.
func WithEndpoint(url string) Option {
	return func(t *Tavily) { t.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tavily) { t.client = c }
}

// WithMaxResults sets how many results are requested.
func WithMaxResults(n int) Option {
	return func(t *Tavily) { t.maxResults = n }
}

// NewTavily creates a Tavily client.
func NewTavily(apiKey string, logger *slog.Logger, opts ...Option) *Tavily {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tavily{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		maxResults: 3,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type searchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeImages bool   `json:"include_images"`
	MaxResults    int    `json:"max_results"`
}

// Search returns the service's direct answer when present, otherwise the
// content of every result joined by newlines. Failures are logged and
// yield an empty string.
func (t *Tavily) Search(ctx context.Context, query string) string {
	text, err := t.search(ctx, query)
	if err != nil {
		t.logger.Warn("[SEARCH] Tavily search failed", "error", err)
		return ""
	}
	return text
}

func (t *Tavily) search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(searchRequest{
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  t.maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("invalid JSON response")
	}

	if answer := gjson.GetBytes(data, "answer").String(); answer != "" {
		return answer, nil
	}
	var parts []string
	for _, c := range gjson.GetBytes(data, "results.#.content").Array() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "\n"), nil
}
