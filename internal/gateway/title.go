package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/leo-pe2/ai-chat-main/internal/provider"
)

// DefaultTitle is used when the model returns an empty title.
const DefaultTitle = "Chat"

// GenerateTitle asks the title model for a short name for a conversation
// that starts with firstMessage.
func (g *Gateway) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	prompt := fmt.Sprintf("Create a very short chat name for the following conversation starter: \"%s\"", firstMessage)

	resp, err := g.HandleChatRequest(ctx, ChatRequest{Prompt: prompt, Model: provider.TitleModel})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := strings.TrimSpace(resp.Response)
	if title == "" {
		return DefaultTitle, nil
	}
	return title, nil
}
