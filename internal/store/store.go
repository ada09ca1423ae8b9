// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// ChatRepository persists conversations. Every method surfaces the
// underlying store error to the caller; nothing is retried here.
type ChatRepository interface {
	// CreateChat inserts a new chat row.
	CreateChat(ctx context.Context, chat *domain.Chat) error

	// ListVisibleChats returns the visible chats owned by userID, newest first.
	ListVisibleChats(ctx context.Context, userID string) ([]*domain.Chat, error)

	// GetChat returns a chat by ID regardless of visibility, or nil if absent.
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// SaveContent replaces the full message sequence of a chat.
	SaveContent(ctx context.Context, chatID string, content []domain.Message) error

	// SetTitleAndReveal sets the title and marks the chat visible in one update.
	SetTitleAndReveal(ctx context.Context, chatID, title string) error

	// SoftDelete hides a chat from listings without erasing its content.
	SoftDelete(ctx context.Context, chatID string) error

	// PurgeStalePlaceholders hard-deletes placeholder-titled chats created
	// before cutoff and returns how many were removed.
	PurgeStalePlaceholders(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuthRepository persists accounts, sessions, and second factors.
type AuthRepository interface {
	// CreateUser inserts a new account.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser returns a user by ID, or nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail returns a user by e-mail address, or nil if absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdatePassword replaces a user's password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// CreateSession stores a newly issued session.
	CreateSession(ctx context.Context, session *domain.AuthSession) error

	// GetSession returns a session by token, or nil if absent.
	GetSession(ctx context.Context, token string) (*domain.AuthSession, error)

	// UpdateSession rewrites the assurance level and expiry of a session.
	UpdateSession(ctx context.Context, token string, aal domain.AAL, expiresAt time.Time) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, token string) error

	// DeleteUserSessions removes every session of userID except keep.
	DeleteUserSessions(ctx context.Context, userID, keep string) (int64, error)

	// CreateFactor registers a new, unverified factor.
	CreateFactor(ctx context.Context, factor *domain.Factor) error

	// GetFactor returns a factor by ID, or nil if absent.
	GetFactor(ctx context.Context, factorID string) (*domain.Factor, error)

	// ListFactors returns all factors for a user, oldest first.
	ListFactors(ctx context.Context, userID string) ([]*domain.Factor, error)

	// MarkFactorVerified records that a factor has passed verification.
	MarkFactorVerified(ctx context.Context, factorID string) error

	// DeleteFactor removes a factor and its challenges.
	DeleteFactor(ctx context.Context, factorID string) error

	// CreateChallenge stores a newly issued challenge.
	CreateChallenge(ctx context.Context, challenge *domain.Challenge) error

	// GetChallenge returns a challenge by ID, or nil if absent.
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)

	// RecordChallengeAttempt increments the attempt counter of a challenge.
	RecordChallengeAttempt(ctx context.Context, challengeID string) error

	// ConsumeChallenge marks a challenge as used. It returns false if the
	// challenge had already been consumed by an earlier call.
	ConsumeChallenge(ctx context.Context, challengeID string, at time.Time) (bool, error)

	// CleanupExpiredAuth removes sessions and challenges that expired before now.
	CleanupExpiredAuth(ctx context.Context, now time.Time) (int64, error)
}

// Repository is the complete persistence surface of the application.
type Repository interface {
	ChatRepository
	AuthRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
