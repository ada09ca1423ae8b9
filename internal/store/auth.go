package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

// CreateUser inserts a new account.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, email, first_name, last_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName,
		user.PasswordHash, toMillis(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID, or nil if absent.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, userID)
}

// GetUserByEmail returns a user by e-mail address, or nil if absent.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg string) (*domain.User, error) {
	query := `SELECT id, email, first_name, last_name, password_hash, created_at FROM users ` + where

	var user domain.User
	var createdAt int64
	err := s.queryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.PasswordHash, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

// UpdatePassword replaces a user's password hash.
func (s *SQLStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.execOne(ctx, "update password",
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
}

// CreateSession stores a newly issued session.
func (s *SQLStore) CreateSession(ctx context.Context, session *domain.AuthSession) error {
	query := `INSERT INTO auth_sessions (token, user_id, aal, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		session.Token, session.UserID, string(session.AAL),
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by token, or nil if absent.
func (s *SQLStore) GetSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	query := `SELECT token, user_id, aal, created_at, expires_at FROM auth_sessions WHERE token = ?`

	var session domain.AuthSession
	var aal string
	var createdAt, expiresAt int64
	err := s.queryRow(ctx, query, token).Scan(
		&session.Token, &session.UserID, &aal, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.AAL = domain.AAL(aal)
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

// UpdateSession rewrites the assurance level and expiry of a session.
func (s *SQLStore) UpdateSession(ctx context.Context, token string, aal domain.AAL, expiresAt time.Time) error {
	return s.execOne(ctx, "update session",
		`UPDATE auth_sessions SET aal = ?, expires_at = ? WHERE token = ?`,
		string(aal), toMillis(expiresAt), token)
}

// DeleteSession removes a session. Deleting an unknown token is not an error.
func (s *SQLStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, `DELETE FROM auth_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session of userID except keep and
// returns how many were removed.
func (s *SQLStore) DeleteUserSessions(ctx context.Context, userID, keep string) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM auth_sessions WHERE user_id = ? AND token <> ?`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user sessions rows affected: %w", err)
	}
	return n, nil
}

const factorColumns = `id, user_id, factor_type, status, secret, created_at`

// CreateFactor registers a new, unverified factor.
func (s *SQLStore) CreateFactor(ctx context.Context, factor *domain.Factor) error {
	query := `INSERT INTO mfa_factors (` + factorColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		factor.ID, factor.UserID, string(factor.Type), string(factor.Status),
		factor.Secret, toMillis(factor.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert factor: %w", err)
	}
	return nil
}

// GetFactor returns a factor by ID, or nil if absent.
func (s *SQLStore) GetFactor(ctx context.Context, factorID string) (*domain.Factor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE id = ?`
	factor, err := scanFactor(s.queryRow(ctx, query, factorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return factor, nil
}

// ListFactors returns all factors for a user, oldest first.
func (s *SQLStore) ListFactors(ctx context.Context, userID string) ([]*domain.Factor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE user_id = ? ORDER BY created_at, id`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query factors: %w", err)
	}
	defer rows.Close()

	var factors []*domain.Factor
	for rows.Next() {
		factor, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		factors = append(factors, factor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factor rows: %w", err)
	}
	return factors, nil
}

// MarkFactorVerified records that a factor has passed verification.
func (s *SQLStore) MarkFactorVerified(ctx context.Context, factorID string) error {
	return s.execOne(ctx, "verify factor",
		`UPDATE mfa_factors SET status = ? WHERE id = ?`,
		string(domain.FactorVerified), factorID)
}

// DeleteFactor removes a factor and its challenges.
func (s *SQLStore) DeleteFactor(ctx context.Context, factorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete factor: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM mfa_challenges WHERE factor_id = ?`), factorID); err != nil {
		return fmt.Errorf("delete factor challenges: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM mfa_factors WHERE id = ?`), factorID)
	if err != nil {
		return fmt.Errorf("delete factor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete factor rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete factor: %w", ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete factor: %w", err)
	}
	return nil
}

func scanFactor(row rowScanner) (*domain.Factor, error) {
	var factor domain.Factor
	var factorType, status string
	var createdAt int64
	err := row.Scan(&factor.ID, &factor.UserID, &factorType, &status, &factor.Secret, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan factor row: %w", err)
	}
	factor.Type = domain.FactorType(factorType)
	factor.Status = domain.FactorStatus(status)
	factor.CreatedAt = fromMillis(createdAt)
	return &factor, nil
}

// CreateChallenge stores a newly issued challenge.
func (s *SQLStore) CreateChallenge(ctx context.Context, challenge *domain.Challenge) error {
	query := `INSERT INTO mfa_challenges (id, factor_id, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		challenge.ID, challenge.FactorID, challenge.Attempts,
		toMillis(challenge.CreatedAt), toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// GetChallenge returns a challenge by ID, or nil if absent.
func (s *SQLStore) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	query := `SELECT id, factor_id, attempts, created_at, expires_at, consumed_at
		FROM mfa_challenges WHERE id = ?`

	var challenge domain.Challenge
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64
	err := s.queryRow(ctx, query, challengeID).Scan(
		&challenge.ID, &challenge.FactorID, &challenge.Attempts,
		&createdAt, &expiresAt, &consumedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge row: %w", err)
	}
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		t := fromMillis(consumedAt.Int64)
		challenge.ConsumedAt = &t
	}
	return &challenge, nil
}

// RecordChallengeAttempt increments the attempt counter of a challenge.
func (s *SQLStore) RecordChallengeAttempt(ctx context.Context, challengeID string) error {
	return s.execOne(ctx, "record challenge attempt",
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, challengeID)
}

// ConsumeChallenge marks a challenge as used. The conditional update makes
// concurrent verifications of the same challenge race to a single winner.
func (s *SQLStore) ConsumeChallenge(ctx context.Context, challengeID string, at time.Time) (bool, error) {
	result, err := s.exec(ctx,
		`UPDATE mfa_challenges SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toMillis(at), challengeID)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge rows affected: %w", err)
	}
	return rows == 1, nil
}

// CleanupExpiredAuth removes sessions and challenges that expired before now.
func (s *SQLStore) CleanupExpiredAuth(ctx context.Context, now time.Time) (int64, error) {
	cutoff := toMillis(now)
	var total int64
	for _, query := range []string{
		`DELETE FROM auth_sessions WHERE expires_at < ?`,
		`DELETE FROM mfa_challenges WHERE expires_at < ?`,
	} {
		result, err := s.exec(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup expired auth: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("cleanup rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
