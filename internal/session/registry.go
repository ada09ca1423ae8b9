package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/auth"
)

// IdleTimeout is how long an unused machine stays cached.
const IdleTimeout = 30 * time.Minute

type entry struct {
	m        *Machine
	lastSeen time.Time
}

// Registry keeps one Machine per signed-in token.
type Registry struct {
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	machines map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(a Authenticator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{auth: a, logger: logger, now: time.Now, machines: make(map[string]*entry)}
}

// Machine returns the machine for token, freshly evaluated against the
// identity provider. Events only keep long-lived holders current; a
// lookup never trusts the cached state. Tokens that are not signed in
// are never cached.
func (r *Registry) Machine(ctx context.Context, token string) (*Machine, error) {
	r.mu.Lock()
	e, cached := r.machines[token]
	r.mu.Unlock()

	m := NewMachine(r.auth, token, r.logger)
	if cached {
		m = e.m
	}
	state, err := m.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if state == Unauthenticated {
		if cached {
			delete(r.machines, token)
		}
		return m, nil
	}
	if existing, ok := r.machines[token]; ok {
		existing.lastSeen = r.now()
		return existing.m, nil
	}
	r.machines[token] = &entry{m: m, lastSeen: r.now()}
	return m, nil
}

// Forget drops the machine for token.
func (r *Registry) Forget(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, token)
}

// Len returns the number of tracked tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Sweep drops machines whose session has expired or that have not been
// looked up for IdleTimeout, and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-IdleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, e := range r.machines {
		if e.m.State() == Unauthenticated || e.lastSeen.Before(cutoff) {
			delete(r.machines, token)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("[SESSION] Swept machines", "removed", removed, "remaining", len(r.machines))
	}
	return removed
}

// Start subscribes to auth events and, until ctx is done, re-evaluates
// the machines each event affects. Signed-out tokens are dropped.
func (r *Registry) Start(ctx context.Context) {
	events, stop := r.auth.Subscribe()
	go r.run(ctx, events, stop)
}

func (r *Registry) run(ctx context.Context, events <-chan auth.Event, stop func()) {
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, ev auth.Event) {
	if ev.Kind == auth.EventSignedOut {
		r.Forget(ev.Token)
	}
	if ev.Kind == auth.EventResync {
		r.logger.Warn("[SESSION] Missed auth events, re-evaluating every machine")
	}

	r.mu.Lock()
	var affected []*Machine
	for _, e := range r.machines {
		if e.m.concerns(ev) {
			affected = append(affected, e.m)
		}
	}
	r.mu.Unlock()

	for _, m := range affected {
		state, err := m.Evaluate(ctx)
		if err != nil {
			r.logger.Warn("[SESSION] Re-evaluation failed", "user_id", ev.UserID, "error", err)
			continue
		}
		if state == Unauthenticated {
			r.Forget(m.Token())
		}
	}
}
