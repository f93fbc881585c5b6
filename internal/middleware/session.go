package middleware

import (
	"context"
	"net/http"
	"strings"

	"storefront/internal/model"
)

// SessionCookieName holds the signed session token.
const SessionCookieName = "session"

// SessionVerifier decodes a session token.
type SessionVerifier interface {
	Verify(token string) (*model.Session, error)
}

// Session returns middleware that resolves the caller's session once per
// request, from the session cookie or a Bearer token. Invalid or expired
// tokens are treated as no session.
func Session(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := sessionToken(r); token != "" {
				if s, err := verifier.Verify(token); err == nil {
					r = r.WithContext(WithSession(r.Context(), s))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the resolved session, or nil for anonymous requests.
func SessionFrom(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionKey).(*model.Session)
	return s
}

// RequireSession rejects anonymous requests with 401.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()) == nil {
			WriteError(w, r, model.NewUnauthorizedError("sign in required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admin sessions
// with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := SessionFrom(r.Context())
		if s == nil {
			WriteError(w, r, model.NewUnauthorizedError("sign in required"))
			return
		}
		if !s.IsAdmin() {
			WriteError(w, r, model.NewForbiddenError("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
