package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/pquerna/otp/totp"
)

// ListFactors returns the factors registered by the session's user.
func (s *Service) ListFactors(ctx context.Context, token string) ([]*domain.Factor, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	factors, err := s.repo.ListFactors(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list factors: %w", err)
	}
	return factors, nil
}

// Enroll registers a new unverified TOTP factor.
func (s *Service) Enroll(ctx context.Context, token string) (*Enrollment, error) {
	user, err := s.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	factor := &domain.Factor{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Type:      domain.FactorTOTP,
		Status:    domain.FactorUnverified,
		Secret:    key.Secret(),
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateFactor(ctx, factor); err != nil {
		return nil, fmt.Errorf("create factor: %w", err)
	}

	s.logger.Info("[AUTH] Factor enrolled", "user_id", user.ID, "factor_id", factor.ID)
	return &Enrollment{FactorID: factor.ID, Secret: key.Secret(), QRPayload: key.URL()}, nil
}

// Unenroll removes one of the user's factors.
func (s *Service) Unenroll(ctx context.Context, token, factorID string) error {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return err
	}
	if _, err := s.ownedFactor(ctx, session.UserID, factorID); err != nil {
		return err
	}
	if err := s.repo.DeleteFactor(ctx, factorID); err != nil {
		return fmt.Errorf("unenroll factor: %w", err)
	}
	s.logger.Info("[AUTH] Factor removed", "user_id", session.UserID, "factor_id", factorID)
	s.events.publish(Event{Kind: EventFactorRemoved, UserID: session.UserID, Token: token})
	return nil
}

// Challenge issues a verification challenge for one of the user's factors.
func (s *Service) Challenge(ctx context.Context, token, factorID string) (*domain.Challenge, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedFactor(ctx, session.UserID, factorID); err != nil {
		return nil, err
	}

	now := s.now()
	challenge := &domain.Challenge{
		ID:        uuid.NewString(),
		FactorID:  factorID,
		CreatedAt: now,
		ExpiresAt: now.Add(ChallengeTTL),
	}
	if err := s.repo.CreateChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}
	return challenge, nil
}

// Verify answers a challenge. A correct code consumes the challenge,
// marks the factor verified, and upgrades the session to aal2. A wrong
// code leaves the challenge usable until it expires or runs out of
// attempts.
func (s *Service) Verify(ctx context.Context, token, factorID, challengeID, code string) (*domain.AuthSession, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	factor, err := s.ownedFactor(ctx, session.UserID, factorID)
	if err != nil {
		return nil, err
	}

	challenge, err := s.repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if challenge == nil || challenge.FactorID != factorID {
		return nil, ErrChallengeNotFound
	}

	now := s.now()
	switch {
	case challenge.Consumed():
		return nil, ErrChallengeConsumed
	case challenge.Expired(now):
		return nil, ErrChallengeExpired
	case challenge.Attempts >= MaxChallengeAttempts:
		return nil, ErrTooManyAttempts
	}

	if err := s.repo.RecordChallengeAttempt(ctx, challengeID); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if !validateCode(code, factor.Secret, now) {
		s.logger.Warn("[AUTH] Invalid verification code",
			"user_id", session.UserID,
			"factor_id", factorID,
			"attempts", fmt.Sprintf("%d/%d", challenge.Attempts+1, MaxChallengeAttempts),
		)
		return nil, ErrInvalidCode
	}

	won, err := s.repo.ConsumeChallenge(ctx, challengeID, now)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !won {
		return nil, ErrChallengeConsumed
	}

	if !factor.IsVerified() {
		if err := s.repo.MarkFactorVerified(ctx, factorID); err != nil {
			return nil, fmt.Errorf("verify factor: %w", err)
		}
	}

	session.AAL = domain.AAL2
	session.ExpiresAt = now.Add(s.sessionTTL)
	if err := s.repo.UpdateSession(ctx, token, session.AAL, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("upgrade session: %w", err)
	}

	s.logger.Info("[AUTH] MFA verified", "user_id", session.UserID, "factor_id", factorID)
	s.events.publish(Event{Kind: EventMFAVerified, UserID: session.UserID, Token: token})
	return session, nil
}

func (s *Service) ownedFactor(ctx context.Context, userID, factorID string) (*domain.Factor, error) {
	factor, err := s.repo.GetFactor(ctx, factorID)
	if err != nil {
		return nil, fmt.Errorf("get factor: %w", err)
	}
	if factor == nil || factor.UserID != userID {
		return nil, ErrFactorNotFound
	}
	return factor, nil
}
