package domain

import "time"

// PlaceholderTitle is the title a chat carries until its first user message
// has been turned into a real name.
const PlaceholderTitle = "New Chat"

// PlaceholderRetention is how long an untitled chat survives before the
// retention sweep removes it.
const PlaceholderRetention = 24 * time.Hour

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderBot       Sender = "bot"
	SenderDeveloper Sender = "developer"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderDeveloper:
		return true
	}
	return false
}

// Message is a single entry in a conversation.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Chat is a conversation owned by exactly one user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   []Message `json:"content"`
	IsVisible bool      `json:"is_visible"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaceholder returns true while the chat still has the default title.
func (c *Chat) IsPlaceholder() bool {
	return c.Title == PlaceholderTitle
}

// FirstUserMessage returns the text of the earliest user message, if any.
func (c *Chat) FirstUserMessage() (string, bool) {
	for _, m := range c.Content {
		if m.Sender == SenderUser {
			return m.Text, true
		}
	}
	return "", false
}

// Append returns a copy of the conversation with msgs added at the end.
// The receiver's slice is never shared with the result.
func (c *Chat) Append(msgs ...Message) []Message {
	out := make([]Message, 0, len(c.Content)+len(msgs))
	out = append(out, c.Content...)
	return append(out, msgs...)
}
