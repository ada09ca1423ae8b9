package auth

import "sync"

// EventKind names an authentication state change.
type EventKind string

const (
	EventSignedIn        EventKind = "signed_in"
	EventTokenRefreshed  EventKind = "token_refreshed"
	EventMFAVerified     EventKind = "mfa_verified"
	EventFactorRemoved   EventKind = "factor_removed"
	EventPasswordChanged EventKind = "password_changed"
	EventSignedOut       EventKind = "signed_out"

	// EventResync replaces events a slow subscriber missed. It names no
	// user; the subscriber must treat every cached state as stale.
	EventResync EventKind = "resync"
)

// Event is published after every authentication state change.
type Event struct {
	Kind   EventKind
	UserID string
	Token  string
}

const subscriberBuffer = 64

type subscriber struct {
	mu sync.Mutex
	ch chan Event
}

type eventBus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]*subscriber)}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// publish never blocks. When a subscriber's buffer is full, its oldest
// event is dropped and EventResync is queued in its place.
func (b *eventBus) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(e)
	}
}

func (s *subscriber) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- e:
		return
	default:
	}
	// Only senders hold s.mu, so the freed slot stays free.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- Event{Kind: EventResync}
}
