package middleware

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"secretary/internal/config"
	"secretary/internal/ratelimit"
)

// RateLimitMiddleware limits webhook traffic per client IP and admin API
// traffic per authenticated client.
type RateLimitMiddleware struct {
	anonymousLimiter     *ratelimit.SlidingWindow
	authenticatedLimiter *ratelimit.SlidingWindow
	config               config.RateLimitingConfig
	onRateLimitExceeded  func(r *http.Request, identifier string, isAnonymous bool)
}

// NewRateLimitMiddleware creates a new rate limiting middleware. onExceeded
// may be nil.
func NewRateLimitMiddleware(cfg config.RateLimitingConfig, onExceeded func(r *http.Request, identifier string, isAnonymous bool)) *RateLimitMiddleware {
	m := &RateLimitMiddleware{config: cfg, onRateLimitExceeded: onExceeded}
	if !cfg.Enabled {
		return m
	}

	cleanup := time.Duration(cfg.CleanupIntervalSeconds) * time.Second
	m.anonymousLimiter = ratelimit.NewSlidingWindow(
		time.Duration(cfg.Anonymous.WindowSeconds)*time.Second,
		cfg.Anonymous.MaxRequests,
		cleanup,
	)
	m.authenticatedLimiter = ratelimit.NewSlidingWindow(
		time.Duration(cfg.Authenticated.WindowSeconds)*time.Second,
		cfg.Authenticated.MaxRequests,
		cleanup,
	)
	return m
}

// Wrap wraps an http.Handler with rate limiting
func (m *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		var (
			identifier  string
			isAnonymous bool
			limit       int
			decision    ratelimit.Decision
		)
		if info := GetAuthInfo(r.Context()); info != nil {
			identifier = info.ClientName
			limit = m.config.Authenticated.MaxRequests
			decision = m.authenticatedLimiter.Allow(identifier)
		} else {
			identifier = extractClientIP(r)
			isAnonymous = true
			limit = m.config.Anonymous.MaxRequests
			decision = m.anonymousLimiter.Allow(identifier)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			if m.onRateLimitExceeded != nil {
				m.onRateLimitExceeded(r, identifier, isAnonymous)
			}
			log.Printf("[RateLimit] Rate limit exceeded: %s %s (identifier: %s)",
				r.Method, r.URL.Path, sanitizeIdentifier(identifier, isAnonymous))
			m.sendRateLimitError(w, decision.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sendRateLimitError sends a 429 Too Many Requests response
func (m *RateLimitMiddleware) sendRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResponse := struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}{
		Error:      "rate_limit_exceeded",
		Message:    "Rate limit exceeded. Try again later.",
		RetryAfter: seconds,
	}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("[RateLimit] Failed to encode error response: %v", err)
	}
}

// extractClientIP extracts the real client IP from the request
// Handles proxies and load balancers by checking standard headers
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeIdentifier sanitizes identifiers for logging (privacy protection)
func sanitizeIdentifier(identifier string, isAnonymous bool) string {
	if !isAnonymous {
		return identifier
	}

	if ip := net.ParseIP(identifier); ip != nil {
		if ip.To4() != nil {
			parts := strings.Split(identifier, ".")
			return fmt.Sprintf("%s.%s.*.*", parts[0], parts[1])
		}
		first, _, _ := strings.Cut(identifier, ":")
		return first + "::*"
	}
	return "IP_ADDR"
}

// Stop stops the rate limiting middleware and cleans up resources
func (m *RateLimitMiddleware) Stop() {
	if m.anonymousLimiter != nil {
		m.anonymousLimiter.Stop()
	}
	if m.authenticatedLimiter != nil {
		m.authenticatedLimiter.Stop()
	}
}

// GetStats returns statistics about rate limiting
func (m *RateLimitMiddleware) GetStats() map[string]interface{} {
	if !m.config.Enabled {
		return map[string]interface{}{"enabled": false}
	}
	return map[string]interface{}{
		"enabled":             true,
		"anonymous_stats":     m.anonymousLimiter.GetStats(),
		"authenticated_stats": m.authenticatedLimiter.GetStats(),
	}
}
