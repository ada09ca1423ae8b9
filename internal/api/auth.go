package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/identity"
	"github.com/leo-pe2/ai-chat-main/internal/session"
)

// Accounts is the credential side of the identity provider.
type Accounts interface {
	SignUp(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error)
	SignIn(ctx context.Context, email, password string) (*domain.AuthSession, error)
	GetUser(ctx context.Context, token string) (*domain.User, error)
	RefreshSession(ctx context.Context, token string) (*domain.AuthSession, error)
	UpdatePassword(ctx context.Context, token, current, next string) error
}

// AuthHandler serves sign-in, sessions, and MFA.
type AuthHandler struct {
	*Handler
	accounts Accounts
	resolver identity.Resolver
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler, accounts Accounts, resolver identity.Resolver) *AuthHandler {
	return &AuthHandler{Handler: base, accounts: accounts, resolver: resolver}
}

// RegisterRoutes registers the /api/auth routes behind mw.
func (h *AuthHandler) RegisterRoutes(r chi.Router, mw ...Middleware) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/signup", h.SignUp)
		r.Post("/signin", h.SignIn)
		r.Post("/signout", h.SignOut)
		r.Post("/refresh", h.Refresh)
		r.Get("/state", h.State)
		r.With(identity.RequireVerified).Post("/password", h.UpdatePassword)

		r.Route("/mfa", func(r chi.Router) {
			r.Get("/factors", h.ListFactors)
			r.Post("/enroll", h.Enroll)
			r.Delete("/factors/{factorID}", h.Unenroll)
			r.Post("/challenge", h.Challenge)
			r.Post("/verify", h.Verify)
		})
	})
}

type stateResponse struct {
	State string       `json:"state"`
	User  *domain.User `json:"user,omitempty"`
}

type signInResponse struct {
	Session *domain.AuthSession `json:"session"`
	State   string              `json:"state"`
}

// SignUp registers an account.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !decode(w, r, &body) {
		return
	}

	user, err := h.accounts.SignUp(r.Context(), body.Email, body.Password, body.FirstName, body.LastName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, user)
}

// SignIn issues a session. The state tells the client whether a second
// factor is still owed.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	sess, err := h.accounts.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.resolver.Machine(r.Context(), sess.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, signInResponse{Session: sess, State: m.State().String()})
}

// SignOut ends the caller's session, optionally removing every factor.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var body struct {
		ResetMFA bool `json:"reset_mfa"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}

	if err := m.SignOut(r.Context(), body.ResetMFA); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh extends the caller's session.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	sess, err := h.accounts.RefreshSession(r.Context(), m.Token())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// UpdatePassword changes the caller's password and signs out their other
// sessions.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}

	token := identity.TokenFromContext(r.Context())
	if err := h.accounts.UpdatePassword(r.Context(), token, body.CurrentPassword, body.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// State reports the caller's MFA standing. Anonymous callers are
// unauthenticated, not refused.
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	m := identity.MachineFromContext(r.Context())
	if m == nil || m.State() == session.Unauthenticated {
		JSON(w, http.StatusOK, stateResponse{State: session.Unauthenticated.String()})
		return
	}

	user, err := h.accounts.GetUser(r.Context(), m.Token())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{State: m.State().String(), User: user})
}

// ListFactors returns the caller's factors.
func (h *AuthHandler) ListFactors(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	factors, err := m.Factors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if factors == nil {
		factors = []*domain.Factor{}
	}
	JSON(w, http.StatusOK, factors)
}

// Enroll registers a new TOTP factor and returns its secret once.
func (h *AuthHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	e, err := m.Enroll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, e.Enrollment)
}

// Unenroll removes a factor. Cancelling an enrollment uses this too.
func (h *AuthHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Unenroll(r.Context(), chi.URLParam(r, "factorID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Challenge issues a single-use challenge for a factor.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var body struct {
		FactorID string `json:"factor_id"`
	}
	if !decode(w, r, &body) {
		return
	}

	challenge, err := m.Challenge(r.Context(), body.FactorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, challenge)
}

// Verify answers a challenge with a one-time code.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var body struct {
		FactorID    string `json:"factor_id"`
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	if err := m.Verify(r.Context(), body.FactorID, body.ChallengeID, body.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{State: m.State().String()})
}

// machine returns the caller's signed-in machine, or writes 401.
func (h *AuthHandler) machine(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	m := identity.MachineFromContext(r.Context())
	if m == nil || m.State() == session.Unauthenticated {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return m, true
}
