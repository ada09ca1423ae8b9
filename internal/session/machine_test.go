package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/auth"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T, opts ...auth.Option) *auth.Service {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return auth.NewService(repo, opts...)
}

// slowAuth delays every session read so the registry falls behind the
// event stream.
type slowAuth struct {
	*auth.Service
	delay time.Duration
}

func (s slowAuth) GetSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	time.Sleep(s.delay)
	return s.Service.GetSession(ctx, token)
}

func verifyFactor(t *testing.T, a *auth.Service, token string) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := a.Enroll(ctx, token)
	require.NoError(t, err)
	challenge, err := a.Challenge(ctx, token, enrollment.FactorID)
	require.NoError(t, err)
	_, err = a.Verify(ctx, token, enrollment.FactorID, challenge.ID, code(t, enrollment.Secret))
	require.NoError(t, err)
	return enrollment.FactorID
}

func signIn(t *testing.T, a *auth.Service, email string) string {
	t.Helper()
	ctx := context.Background()
	_, err := a.SignUp(ctx, email, "password123", "", "")
	require.NoError(t, err)
	session, err := a.SignIn(ctx, email, "password123")
	require.NoError(t, err)
	return session.Token
}

func code(t *testing.T, secret string) string {
	t.Helper()
	c, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return c
}

func TestUnknownTokenIsUnauthenticated(t *testing.T) {
	m := NewMachine(newAuth(t), "nope", nil)

	state, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, Unauthenticated, state)
	require.ErrorIs(t, m.Gate(), ErrUnauthenticated)
}

func TestSessionWithoutFactorIsVerified(t *testing.T) {
	a := newAuth(t)
	m := NewMachine(a, signIn(t, a, "a@example.com"), nil)

	state, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, Verified, state)
	require.NoError(t, m.Gate())
}

func TestEnrollActivateThenNewSessionNeedsMFA(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()
	token := signIn(t, a, "a@example.com")
	m := NewMachine(a, token, nil)
	_, _ = m.Evaluate(ctx)

	enrollment, err := m.Enroll(ctx)
	require.NoError(t, err)
	require.NoError(t, enrollment.Activate(ctx, code(t, enrollment.Secret)))
	require.Equal(t, Verified, m.State())

	// A fresh sign-in starts at aal1 and now owes the factor.
	second, err := a.SignIn(ctx, "a@example.com", "password123")
	require.NoError(t, err)
	m2 := NewMachine(a, second.Token, nil)
	state, err := m2.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, Unverified, state)
	require.ErrorIs(t, m2.Gate(), ErrMFARequired)

	challenge, err := m2.Challenge(ctx, enrollment.FactorID)
	require.NoError(t, err)

	err = m2.Verify(ctx, enrollment.FactorID, challenge.ID, "123")
	require.ErrorIs(t, err, ErrInvalidCode)
	require.ErrorIs(t, err, auth.ErrInvalidCode)
	require.Equal(t, Unverified, m2.State())

	require.NoError(t, m2.Verify(ctx, enrollment.FactorID, challenge.ID, code(t, enrollment.Secret)))
	require.Equal(t, Verified, m2.State())
}

func TestConsumedChallengeCannotBeReused(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()
	m := NewMachine(a, signIn(t, a, "a@example.com"), nil)

	enrollment, err := m.Enroll(ctx)
	require.NoError(t, err)
	challenge, err := m.Challenge(ctx, enrollment.FactorID)
	require.NoError(t, err)

	c := code(t, enrollment.Secret)
	require.NoError(t, m.Verify(ctx, enrollment.FactorID, challenge.ID, c))
	require.ErrorIs(t, m.Verify(ctx, enrollment.FactorID, challenge.ID, c), auth.ErrChallengeConsumed)
}

func TestCancelEnrollmentLeavesNoFactor(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()
	token := signIn(t, a, "a@example.com")
	m := NewMachine(a, token, nil)

	enrollment, err := m.Enroll(ctx)
	require.NoError(t, err)
	require.NoError(t, enrollment.Cancel(ctx))

	factors, err := a.ListFactors(ctx, token)
	require.NoError(t, err)
	require.Empty(t, factors)
}

func TestSignOutWithReset(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()
	token := signIn(t, a, "a@example.com")
	m := NewMachine(a, token, nil)

	enrollment, _ := m.Enroll(ctx)
	require.NoError(t, enrollment.Activate(ctx, code(t, enrollment.Secret)))

	require.NoError(t, m.SignOut(ctx, true))
	require.Equal(t, Unauthenticated, m.State())

	next, err := a.SignIn(ctx, "a@example.com", "password123")
	require.NoError(t, err)
	m2 := NewMachine(a, next.Token, nil)
	state, err := m2.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, Verified, state, "reset removed every factor")
}

func TestRegistryReevaluatesOnEvents(t *testing.T) {
	a := newAuth(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(a, nil)
	reg.Start(ctx)

	first := signIn(t, a, "a@example.com")
	second, err := a.SignIn(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	m2, err := reg.Machine(ctx, second.Token)
	require.NoError(t, err)
	require.Equal(t, Verified, m2.State())

	// Verifying a factor from the first device makes the second owe it.
	m1, err := reg.Machine(ctx, first)
	require.NoError(t, err)
	enrollment, err := m1.Enroll(ctx)
	require.NoError(t, err)
	require.NoError(t, enrollment.Activate(ctx, code(t, enrollment.Secret)))

	require.Eventually(t, func() bool { return m2.State() == Unverified }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.SignOut(ctx, second.Token))
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryDoesNotCacheUnknownTokens(t *testing.T) {
	reg := NewRegistry(newAuth(t), nil)

	m, err := reg.Machine(context.Background(), "ghost")
	require.NoError(t, err)
	require.True(t, errors.Is(m.Gate(), ErrUnauthenticated))
	require.Zero(t, reg.Len())
}

func TestLookupIgnoresStaleStateWhenEventsBackUp(t *testing.T) {
	a := newAuth(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(slowAuth{Service: a, delay: 20 * time.Millisecond}, nil)
	reg.Start(ctx)

	first := signIn(t, a, "x@example.com")
	second, err := a.SignIn(ctx, "x@example.com", "password123")
	require.NoError(t, err)
	other := signIn(t, a, "y@example.com")

	for _, token := range []string{first, second.Token, other} {
		m, err := reg.Machine(ctx, token)
		require.NoError(t, err)
		require.Equal(t, Verified, m.State())
	}

	// Every refresh makes the registry re-read y's session.
	for i := 0; i < 150; i++ {
		_, err := a.RefreshSession(ctx, other)
		require.NoError(t, err)
	}
	verifyFactor(t, a, first)

	m, err := reg.Machine(ctx, second.Token)
	require.NoError(t, err)
	require.Equal(t, Unverified, m.State())
	require.ErrorIs(t, m.Gate(), ErrMFARequired)
}

func TestRegistryReevaluatesOnFactorRemoval(t *testing.T) {
	a := newAuth(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(a, nil)
	reg.Start(ctx)

	first := signIn(t, a, "a@example.com")
	factorID := verifyFactor(t, a, first)
	second, err := a.SignIn(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	m2, err := reg.Machine(ctx, second.Token)
	require.NoError(t, err)
	require.Equal(t, Unverified, m2.State())

	// Removing the only factor from the first device frees the second.
	require.NoError(t, a.Unenroll(ctx, first, factorID))
	require.Eventually(t, func() bool { return m2.State() == Verified }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryDropsRevokedSessionsOnPasswordChange(t *testing.T) {
	a := newAuth(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(a, nil)
	reg.Start(ctx)

	first := signIn(t, a, "a@example.com")
	second, err := a.SignIn(ctx, "a@example.com", "password123")
	require.NoError(t, err)
	m2, err := reg.Machine(ctx, second.Token)
	require.NoError(t, err)
	_, err = reg.Machine(ctx, first)
	require.NoError(t, err)

	require.NoError(t, a.UpdatePassword(ctx, first, "password123", "new password"))
	require.Eventually(t, func() bool { return m2.State() == Unauthenticated }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSweepDropsIdleAndExpiredMachines(t *testing.T) {
	a := newAuth(t, auth.WithSessionTTL(500*time.Millisecond))
	ctx := context.Background()
	reg := NewRegistry(a, nil)

	_, err := reg.Machine(ctx, signIn(t, a, "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())
	require.Zero(t, reg.Sweep(), "a live, recently used machine stays")

	time.Sleep(600 * time.Millisecond)
	require.Equal(t, 1, reg.Sweep())
	require.Zero(t, reg.Len())
}

func TestSweepDropsIdleMachines(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()
	reg := NewRegistry(a, nil)

	_, err := reg.Machine(ctx, signIn(t, a, "a@example.com"))
	require.NoError(t, err)

	start := time.Now()
	reg.now = func() time.Time { return start.Add(IdleTimeout + time.Minute) }
	require.Equal(t, 1, reg.Sweep())
	require.Zero(t, reg.Len())
}
