package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"
)

// GeminiAdapter calls the Gemini generateContent API with Google Search
// grounding enabled.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates a Gemini adapter. An empty baseURL keeps the
// SDK default.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*GeminiAdapter, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

// Respond sends the raw prompt. History is never part of the request.
func (a *GeminiAdapter) Respond(ctx context.Context, model Model, prompt string, _ []Turn) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, model.Upstream, genai.Text(prompt), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return "", wrapGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return NoResponse, nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return NoResponse, nil
	}
	return b.String(), nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = http.StatusText(apiErr.Code)
		}
		pe := upstreamError(providerGemini, apiErr.Code, message)
		pe.Err = err
		return pe
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(providerGemini, err)
	}
	return malformedError(providerGemini, err)
}
