// Package notify fans out chat change events to per-user subscribers.
// An event only says that something changed; receivers reload.
package notify

import (
	"context"
	"time"
)

// Kind names the mutation behind an event.
type Kind string

const (
	ChatCreated Kind = "created"
	ChatUpdated Kind = "updated"
	ChatTitled  Kind = "titled"
	ChatDeleted Kind = "deleted"
)

// Event announces a change to one of a user's chats.
type Event struct {
	Kind   Kind      `json:"kind"`
	UserID string    `json:"user_id"`
	ChatID string    `json:"chat_id,omitempty"`
	At     time.Time `json:"at"`
}

// Broker delivers events to the subscribers of the event's user.
type Broker interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
	Close() error
}

// Subscription is a stream of events for one user. Events that arrive
// while the buffer is full are dropped; the next delivered event still
// triggers a full reload.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Close stops delivery and releases the subscription.
func (s *Subscription) Close() {
	s.cancel()
}

const subscriberBuffer = 16
