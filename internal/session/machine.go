// Package session tracks whether a signed-in token still owes a second
// factor and gates access until it is verified.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/auth"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

// State is the MFA standing of one token.
type State int

const (
	Unauthenticated State = iota
	Unverified
	Verified
)

func (s State) String() string {
	switch s {
	case Unverified:
		return "unverified"
	case Verified:
		return "verified"
	default:
		return "unauthenticated"
	}
}

var (
	// ErrUnauthenticated is returned by Gate when the token is not signed in.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrMFARequired is returned by Gate while a verified factor is unanswered.
	ErrMFARequired = errors.New("multi-factor verification required")
	// ErrInvalidCode is returned for a wrong one-time code.
	ErrInvalidCode = fmt.Errorf("%w: check your authenticator app and try again", auth.ErrInvalidCode)
)

// Authenticator is the identity provider behind a Machine.
type Authenticator interface {
	GetSession(ctx context.Context, token string) (*domain.AuthSession, error)
	RefreshSession(ctx context.Context, token string) (*domain.AuthSession, error)
	SignOut(ctx context.Context, token string) error
	AssuranceLevel(ctx context.Context, token string) (auth.AssuranceLevel, error)
	ListFactors(ctx context.Context, token string) ([]*domain.Factor, error)
	Enroll(ctx context.Context, token string) (*auth.Enrollment, error)
	Unenroll(ctx context.Context, token, factorID string) error
	Challenge(ctx context.Context, token, factorID string) (*domain.Challenge, error)
	Verify(ctx context.Context, token, factorID, challengeID, code string) (*domain.AuthSession, error)
	Subscribe() (<-chan auth.Event, func())
}

// Machine is the MFA state of one token.
type Machine struct {
	auth   Authenticator
	token  string
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	userID    string
	expiresAt time.Time
}

// NewMachine creates a machine in the Unauthenticated state. Call
// Evaluate to load the token's real standing.
func NewMachine(a Authenticator, token string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{auth: a, token: token, logger: logger}
}

// Token returns the token the machine tracks.
func (m *Machine) Token() string {
	return m.token
}

// State returns the last evaluated state. A session that has since
// expired reads as Unauthenticated.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Unauthenticated && !time.Now().Before(m.expiresAt) {
		return Unauthenticated
	}
	return m.state
}

// UserID returns the token's user, empty while unauthenticated.
func (m *Machine) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Evaluate re-reads the token's assurance level. A session at aal1 with
// no verified factor counts as Verified.
func (m *Machine) Evaluate(ctx context.Context) (State, error) {
	session, err := m.auth.GetSession(ctx, m.token)
	if errors.Is(err, auth.ErrSessionNotFound) {
		m.set(Unauthenticated, "", time.Time{})
		return Unauthenticated, nil
	}
	if err != nil {
		return m.State(), fmt.Errorf("evaluate session: %w", err)
	}

	level, err := m.auth.AssuranceLevel(ctx, m.token)
	if errors.Is(err, auth.ErrSessionNotFound) {
		m.set(Unauthenticated, "", time.Time{})
		return Unauthenticated, nil
	}
	if err != nil {
		return m.State(), fmt.Errorf("evaluate assurance level: %w", err)
	}

	state := Verified
	if level.Current == domain.AAL1 && level.Next == domain.AAL2 {
		state = Unverified
	}
	m.set(state, session.UserID, session.ExpiresAt)
	return state, nil
}

func (m *Machine) set(state State, userID string, expiresAt time.Time) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.userID = userID
	m.expiresAt = expiresAt
	m.mu.Unlock()

	if prev != state {
		m.logger.Debug("[SESSION] State changed", "user_id", userID, "from", prev.String(), "to", state.String())
	}
}

// Gate returns nil only in the Verified state.
func (m *Machine) Gate() error {
	switch m.State() {
	case Verified:
		return nil
	case Unverified:
		return ErrMFARequired
	default:
		return ErrUnauthenticated
	}
}

// Run re-evaluates on every auth event for the machine's user until ctx
// is done.
func (m *Machine) Run(ctx context.Context) {
	events, stop := m.auth.Subscribe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if m.concerns(ev) {
				if _, err := m.Evaluate(ctx); err != nil {
					m.logger.Warn("[SESSION] Re-evaluation failed", "error", err)
				}
			}
		}
	}
}

func (m *Machine) concerns(ev auth.Event) bool {
	if ev.Kind == auth.EventResync || ev.Token == m.token {
		return true
	}
	userID := m.UserID()
	return userID != "" && ev.UserID == userID
}

// Factors lists the user's registered factors.
func (m *Machine) Factors(ctx context.Context) ([]*domain.Factor, error) {
	return m.auth.ListFactors(ctx, m.token)
}

// Unenroll removes a factor and re-reads the machine's standing.
func (m *Machine) Unenroll(ctx context.Context, factorID string) error {
	if err := m.auth.Unenroll(ctx, m.token, factorID); err != nil {
		return err
	}
	_, err := m.Evaluate(ctx)
	return err
}

// Challenge issues a challenge for factorID.
func (m *Machine) Challenge(ctx context.Context, factorID string) (*domain.Challenge, error) {
	return m.auth.Challenge(ctx, m.token, factorID)
}

// Verify answers a challenge. On success the session is refreshed and
// the machine moves to Verified.
func (m *Machine) Verify(ctx context.Context, factorID, challengeID, code string) error {
	if _, err := m.auth.Verify(ctx, m.token, factorID, challengeID, code); err != nil {
		if errors.Is(err, auth.ErrInvalidCode) {
			return ErrInvalidCode
		}
		return err
	}
	if _, err := m.auth.RefreshSession(ctx, m.token); err != nil {
		return fmt.Errorf("refresh after verify: %w", err)
	}
	_, err := m.Evaluate(ctx)
	return err
}

// SignOut ends the session. With resetMFA every factor is removed first,
// so the next sign-in starts without a second factor.
func (m *Machine) SignOut(ctx context.Context, resetMFA bool) error {
	if resetMFA {
		factors, err := m.auth.ListFactors(ctx, m.token)
		if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
			return fmt.Errorf("list factors: %w", err)
		}
		for _, f := range factors {
			if err := m.auth.Unenroll(ctx, m.token, f.ID); err != nil {
				return fmt.Errorf("reset factor %s: %w", f.ID, err)
			}
		}
	}
	if err := m.auth.SignOut(ctx, m.token); err != nil {
		return err
	}
	m.set(Unauthenticated, "", time.Time{})
	return nil
}
