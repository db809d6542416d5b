package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is package private so no other package can read or shadow the
// uid stored in a request context.
type contextKey string

const uidKey contextKey = "uid"

// CookieName is the cookie RequireAuth falls back to when no Authorization
// header is sent.
const CookieName = "token"

const unauthorizedBody = `{"success":false,"error":"unauthorized","message":"valid authentication required"}`

// RequireAuth rejects requests without a valid token with 401 and otherwise
// stores the caller's uid in the request context.
//
// The token is read from "Authorization: Bearer <jwt>" first and from the
// "token" cookie second, so both API clients and the browser front end work.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, err := extractUID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="community-library"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(unauthorizedBody))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUID(r.Context(), uid)))
		})
	}
}

// OptionalAuth attaches the uid when a valid token is present and lets the
// request through either way. Used on public catalog reads.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid, err := extractUID(r, tokens); err == nil {
				r = r.WithContext(WithUID(r.Context(), uid))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUID returns a copy of ctx carrying uid.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// UIDFromContext returns the authenticated uid, or ("", false) for an
// anonymous request.
func UIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(uidKey).(string)
	return id, ok && id != ""
}

func extractUID(r *http.Request, tokens *TokenService) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return tokens.Validate(strings.TrimSpace(token))
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
