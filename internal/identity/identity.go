// Package identity resolves bearer tokens into request identity and gates
// routes on MFA standing.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/leo-pe2/ai-chat-main/internal/session"
)

// TokenQueryParam carries the token for clients that cannot set headers,
// such as browser websockets.
const TokenQueryParam = "access_token"

type contextKey int

const (
	userIDKey contextKey = iota
	tokenKey
	machineKey
)

// Resolver returns the session machine for a token, evaluated for the
// current request.
type Resolver interface {
	Machine(ctx context.Context, token string) (*session.Machine, error)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// TokenFromContext extracts the bearer token from the request context.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// MachineFromContext extracts the session machine, nil for anonymous requests.
func MachineFromContext(ctx context.Context) *session.Machine {
	if v, ok := ctx.Value(machineKey).(*session.Machine); ok {
		return v
	}
	return nil
}

// WithMachine returns ctx carrying m and its identity.
func WithMachine(ctx context.Context, m *session.Machine) context.Context {
	ctx = context.WithValue(ctx, machineKey, m)
	ctx = context.WithValue(ctx, tokenKey, m.Token())
	return context.WithValue(ctx, userIDKey, m.UserID())
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the access_token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// Middleware attaches the session machine of a bearer token, if any.
// Requests without a token pass through anonymously.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			m, err := resolver.Machine(r.Context(), token)
			if err != nil {
				slog.Error("[IDENTITY] Failed to resolve session", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to resolve session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithMachine(r.Context(), m)))
		})
	}
}

// RequireVerified refuses requests that are not signed in (401) or still
// owe a second factor (403).
func RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gate(w, MachineFromContext(r.Context())) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RefuseUnverified lets anonymous requests through but refuses a token
// that is expired or still owes a second factor.
func RefuseUnverified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := MachineFromContext(r.Context())
		if m != nil && !gate(w, m) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func gate(w http.ResponseWriter, m *session.Machine) bool {
	if m == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	switch err := m.Gate(); {
	case err == nil:
		return true
	case errors.Is(err, session.ErrMFARequired):
		writeError(w, http.StatusForbidden, "mfa_required")
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey identifies the caller for throttling: the user when signed
// in, otherwise the remote IP.
func ClientKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + IPFromRequest(r)
}
