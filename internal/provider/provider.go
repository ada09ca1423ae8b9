// Package provider adapts hosted language-model APIs to a single
// prompt-plus-history interface.
package provider

import (
	"context"
	"errors"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

// ModelID is a client-facing model identifier.
type ModelID string

const (
	Model4oMini     ModelID = "4o-mini"
	ModelO1Mini     ModelID = "o1-mini"
	ModelO3Mini     ModelID = "o3-mini"
	ModelO3MiniHigh ModelID = "o3-mini-high"
	ModelDeepSeekR1 ModelID = "DeepSeek R1"
	ModelGemini     ModelID = "Gemini 2.0 Flash"
)

// TitleModel generates chat titles.
const TitleModel = Model4oMini

// NoResponse is returned in place of text when a provider answers with a
// well-formed body that carries no content.
const NoResponse = "No response generated"

var (
	// ErrEmptyPrompt is returned when the prompt is blank after trimming.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrUnknownModel is returned for model ids outside the supported set.
	ErrUnknownModel = errors.New("Unknown model selected") //nolint:staticcheck // shown to clients verbatim
)

// Class describes how a model consumes conversation history.
type Class int

const (
	// ClassStatelessHistory resends the full role-tagged history on every call.
	ClassStatelessHistory Class = iota
	// ClassSingleTurn sends only the current prompt.
	ClassSingleTurn
	// ClassGrounded sends the raw prompt to a generation endpoint.
	ClassGrounded
)

func (c Class) String() string {
	switch c {
	case ClassStatelessHistory:
		return "stateless-history"
	case ClassSingleTurn:
		return "single-turn"
	case ClassGrounded:
		return "grounded"
	default:
		return "unknown"
	}
}

// Role is a chat-completion role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role Role
	Text string
}

// RoleFromSender maps a stored message sender to a completion role.
func RoleFromSender(s domain.Sender) Role {
	switch s {
	case domain.SenderUser:
		return RoleUser
	case domain.SenderDeveloper:
		return RoleSystem
	default:
		return RoleAssistant
	}
}

// TurnsFromMessages converts stored messages into completion history.
func TurnsFromMessages(msgs []domain.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: RoleFromSender(m.Sender), Text: m.Text})
	}
	return turns
}

// Adapter talks to one upstream API. History is already shaped for the
// model's class when Respond is called.
type Adapter interface {
	Respond(ctx context.Context, model Model, prompt string, history []Turn) (string, error)
}

// Model binds a client-facing id to an upstream model and adapter.
type Model struct {
	ID       ModelID `json:"id"`
	Class    Class   `json:"-"`
	Provider string  `json:"provider"`
	Upstream string  `json:"upstream"`

	// NoSystemRole marks models that reject system messages; those turns
	// are sent as user turns instead.
	NoSystemRole bool `json:"-"`
}
