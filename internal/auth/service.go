// Package auth provides accounts, bearer sessions, and TOTP second factors.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// ChallengeTTL is how long a challenge can be answered.
	ChallengeTTL = 5 * time.Minute
	// MaxChallengeAttempts bounds wrong codes per challenge.
	MaxChallengeAttempts = 5

	minPasswordLength = 8
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultIssuer     = "AI Chat"
)

// AssuranceLevel is the current level of a session and the highest level
// it could reach with the user's verified factors.
type AssuranceLevel struct {
	Current domain.AAL `json:"current_level"`
	Next    domain.AAL `json:"next_level"`
}

// Enrollment is a freshly registered factor awaiting its first verification.
type Enrollment struct {
	FactorID  string `json:"id"`
	Secret    string `json:"secret"`
	QRPayload string `json:"uri"`
}

// Service implements sign-up, sign-in, sessions, and MFA.
type Service struct {
	repo       store.AuthRepository
	issuer     string
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	events     *eventBus
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer sets the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithSessionTTL sets how long issued sessions stay valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.sessionTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an auth service over repo.
func NewService(repo store.AuthRepository, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		issuer:     defaultIssuer,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
		logger:     slog.Default(),
		events:     newEventBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe returns a stream of auth events and a function that ends it.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// SignUp registers a new account.
func (s *Service) SignUp(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email address: %w", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("[AUTH] User signed up", "user_id", user.ID)
	return user, nil
}

// SignIn checks credentials and issues an aal1 session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &domain.AuthSession{
		Token:     token,
		UserID:    user.ID,
		AAL:       domain.AAL1,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("[AUTH] User signed in", "user_id", user.ID)
	s.events.publish(Event{Kind: EventSignedIn, UserID: user.ID, Token: token})
	return session, nil
}

// GetSession returns the live session for token.
func (s *Service) GetSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.repo.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetUser returns the account behind a live session.
func (s *Service) GetUser(ctx context.Context, token string) (*domain.User, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

// RefreshSession extends a live session, keeping its assurance level.
func (s *Service) RefreshSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	session.ExpiresAt = s.now().Add(s.sessionTTL)
	if err := s.repo.UpdateSession(ctx, token, session.AAL, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	s.events.publish(Event{Kind: EventTokenRefreshed, UserID: session.UserID, Token: token})
	return session, nil
}

// SignOut ends a session. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	session, err := s.repo.GetSession(ctx, token)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if err := s.repo.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if session != nil {
		s.logger.Info("[AUTH] User signed out", "user_id", session.UserID)
		s.events.publish(Event{Kind: EventSignedOut, UserID: session.UserID, Token: token})
	}
	return nil
}

// UpdatePassword replaces the password of the session's user after
// checking the current one. Every other session of the user is revoked;
// the calling session stays signed in.
func (s *Service) UpdatePassword(ctx context.Context, token, current, next string) error {
	user, err := s.GetUser(ctx, token)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	revoked, err := s.repo.DeleteUserSessions(ctx, user.ID, token)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.logger.Info("[AUTH] Password changed", "user_id", user.ID, "revoked_sessions", revoked)
	s.events.publish(Event{Kind: EventPasswordChanged, UserID: user.ID, Token: token})
	return nil
}

// AssuranceLevel reports the session's current level and the level a
// verified factor would give it.
func (s *Service) AssuranceLevel(ctx context.Context, token string) (AssuranceLevel, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return AssuranceLevel{}, err
	}
	factors, err := s.repo.ListFactors(ctx, session.UserID)
	if err != nil {
		return AssuranceLevel{}, fmt.Errorf("list factors: %w", err)
	}

	level := AssuranceLevel{Current: session.AAL, Next: domain.AAL1}
	for _, f := range factors {
		if f.IsVerified() {
			level.Next = domain.AAL2
			break
		}
	}
	return level, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validateCode(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
