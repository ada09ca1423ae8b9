package session

import (
	"context"
	"fmt"

	"github.com/leo-pe2/ai-chat-main/internal/auth"
)

// Enrollment is a half-registered factor. It ends with Activate or Cancel.
type Enrollment struct {
	auth.Enrollment
	m *Machine
}

// Enroll registers a new TOTP factor for the machine's user.
func (m *Machine) Enroll(ctx context.Context) (*Enrollment, error) {
	e, err := m.auth.Enroll(ctx, m.token)
	if err != nil {
		return nil, err
	}
	return &Enrollment{Enrollment: *e, m: m}, nil
}

// Cancel removes the factor so no unverified registration is left behind.
func (e *Enrollment) Cancel(ctx context.Context) error {
	if err := e.m.auth.Unenroll(ctx, e.m.token, e.FactorID); err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	return nil
}

// Activate proves possession of the new factor with code.
func (e *Enrollment) Activate(ctx context.Context, code string) error {
	challenge, err := e.m.Challenge(ctx, e.FactorID)
	if err != nil {
		return fmt.Errorf("challenge new factor: %w", err)
	}
	return e.m.Verify(ctx, e.FactorID, challenge.ID, code)
}
