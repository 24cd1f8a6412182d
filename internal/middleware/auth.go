// Package middleware provides HTTP middleware for the bot's HTTP server.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// AuthContextKey is the context key for storing authentication info
	AuthContextKey contextKey = "auth"
)

// AdminClient is the client name recorded for requests carrying the admin
// token.
const AdminClient = "admin"

// AuthInfo contains authenticated client information stored in request context
type AuthInfo struct {
	// ClientName is the name of the authenticated client
	ClientName string
	// AuthenticatedAt is when this request was authenticated
	AuthenticatedAt time.Time
}

// GetAuthInfo retrieves authentication info from the request context
// Returns nil if the request is not authenticated
func GetAuthInfo(ctx context.Context) *AuthInfo {
	if info, ok := ctx.Value(AuthContextKey).(*AuthInfo); ok {
		return info
	}
	return nil
}

// AuthError represents an authentication error
type AuthError struct {
	// Code is the HTTP status code
	Code int `json:"-"`
	// Error is the error identifier (e.g., "unauthorized", "forbidden")
	Error string `json:"error"`
	// Message is a human-readable description (generic, no details)
	Message string `json:"message"`
}

// Standard auth errors - generic messages to avoid information leakage
var (
	ErrMissingToken = AuthError{
		Code:    http.StatusUnauthorized,
		Error:   "unauthorized",
		Message: "Authentication required",
	}
	ErrInvalidToken = AuthError{
		Code:    http.StatusForbidden,
		Error:   "forbidden",
		Message: "Access denied",
	}
)

// AuthMiddleware guards the admin API with a static bearer token.
type AuthMiddleware struct {
	token       []byte
	onAuthError func(r *http.Request, err AuthError)
}

// NewAuthMiddleware creates the middleware. An empty token disables the
// check, and every request is then treated as the admin client.
func NewAuthMiddleware(token string, onAuthError func(r *http.Request, err AuthError)) *AuthMiddleware {
	return &AuthMiddleware{token: []byte(token), onAuthError: onAuthError}
}

// Wrap wraps an http.Handler with authentication
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.token) > 0 {
			token, ok := bearerToken(r)
			if !ok {
				m.sendError(w, r, ErrMissingToken)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), m.token) != 1 {
				log.Printf("[Auth] Invalid admin token from %s for %s", r.RemoteAddr, r.URL.Path)
				m.sendError(w, r, ErrInvalidToken)
				return
			}
		}

		ctx := context.WithValue(r.Context(), AuthContextKey, &AuthInfo{
			ClientName:      AdminClient,
			AuthenticatedAt: time.Now(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// sendError sends an authentication error response
func (m *AuthMiddleware) sendError(w http.ResponseWriter, r *http.Request, authErr AuthError) {
	if m.onAuthError != nil {
		m.onAuthError(r, authErr)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="secretary"`)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(authErr.Code)

	if err := json.NewEncoder(w).Encode(authErr); err != nil {
		log.Printf("[Auth] Failed to encode error response: %v", err)
	}
}
