package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when the provided credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when signing up with a registered address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword is returned when a password is too short.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrSessionNotFound is returned for unknown or expired tokens.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFactorNotFound is returned for factors that do not exist or belong to someone else.
	ErrFactorNotFound = errors.New("factor not found")
	// ErrChallengeNotFound is returned for challenges not issued for the given factor.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is returned once a challenge has outlived its lifetime.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeConsumed is returned when a challenge was already answered correctly.
	ErrChallengeConsumed = errors.New("challenge already used")
	// ErrTooManyAttempts is returned once a challenge has run out of attempts.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrInvalidCode is returned for a wrong one-time code.
	ErrInvalidCode = errors.New("invalid verification code")
)
