package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenAIAdapter serves any chat-completions endpoint the OpenAI SDK can
// reach: OpenAI itself, DeepSeek, and OpenRouter.
type OpenAIAdapter struct {
	name   string
	client *openai.Client
	// raw reads the response body with gjson instead of decoding it into
	// the SDK types, for endpoints whose answers vary in layout.
	raw bool
}

// NewOpenAIAdapter creates an adapter named name. An empty baseURL keeps
// the SDK default.
func NewOpenAIAdapter(name, apiKey, baseURL string, httpClient *http.Client) *OpenAIAdapter {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		options = append(options, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(options...)
	return &OpenAIAdapter{name: name, client: &client}
}

// NewOpenRouterAdapter creates an adapter for OpenRouter. Its bodies carry
// the answer either under message or under choices, so they are read with gjson
// rather than decoded.
func NewOpenRouterAdapter(apiKey, baseURL string, httpClient *http.Client) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	a := NewOpenAIAdapter(providerOpenRouter, apiKey, baseURL, httpClient)
	a.raw = true
	return a
}

// Respond sends history followed by prompt as the final user turn.
func (a *OpenAIAdapter) Respond(ctx context.Context, model Model, prompt string, history []Turn) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: completionMessages(model, prompt, history),
		Model:    model.Upstream,
	}
	if a.raw {
		return a.respondRaw(ctx, params)
	}

	var res *http.Response
	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithResponseInto(&res))
	if err != nil {
		return "", a.wrapError(err, res)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return NoResponse, nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAdapter) respondRaw(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var res *http.Response
	if _, err := a.client.Chat.Completions.New(ctx, params, option.WithResponseBodyInto(&res)); err != nil {
		return "", a.wrapError(err, res)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(a.name, err)
	}
	shape, err := completionShape(body)
	if err != nil {
		return "", malformedError(a.name, err)
	}
	return shape.Text(), nil
}

func completionMessages(model Model, prompt string, history []Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, turn := range history {
		switch {
		case turn.Role == RoleSystem && !model.NoSystemRole:
			messages = append(messages, openai.SystemMessage(turn.Text))
		case turn.Role == RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	return append(messages, openai.UserMessage(prompt))
}

// wrapError classifies an SDK failure. res is the raw response, if one
// arrived; its body still holds the provider's error text.
func (a *OpenAIAdapter) wrapError(err error, res *http.Response) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(a.name, err)
	}

	status := 0
	message := ""
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		message = apiErr.Message
	} else if res != nil && res.StatusCode >= http.StatusBadRequest {
		status = res.StatusCode
	}
	if status == 0 {
		return malformedError(a.name, err)
	}

	if message == "" {
		message = http.StatusText(status)
		if res != nil && res.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
			message = errorMessage(body, message)
		}
	}
	pe := upstreamError(a.name, status, message)
	pe.Err = err
	return pe
}
