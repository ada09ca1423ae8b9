package notify

import (
	"context"
	"sync"
)

// Memory is an in-process broker.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan Event]struct{})}
}

// Publish delivers event to every subscriber of event.UserID without blocking.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID. The subscription ends when
// ctx is done or Close is called.
func (m *Memory) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return &Subscription{C: ch, cancel: func() {}}, nil
	}
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[chan Event]struct{})
	}
	m.subs[userID][ch] = struct{}{}
	m.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	remove := func() {
		once.Do(func() {
			close(done)
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[userID][ch]; !ok {
				return
			}
			delete(m.subs[userID], ch)
			if len(m.subs[userID]) == 0 {
				delete(m.subs, userID)
			}
			close(ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			remove()
		case <-done:
		}
	}()

	return &Subscription{C: ch, cancel: remove}, nil
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for userID, chans := range m.subs {
		for ch := range chans {
			close(ch)
		}
		delete(m.subs, userID)
	}
	return nil
}
