package api

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/verifyd/verifyd/internal/ratelimit"
	"github.com/verifyd/verifyd/internal/utils"
)

// ClientIP extracts the calling client's IP, preferring the first
// X-Forwarded-For hop when a proxy added one.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SecureTransport reports whether the request arrived over TLS, directly or
// behind a terminating proxy.
func SecureTransport(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// RateLimit wraps a handler with a per-IP fixed-window limit. op namespaces
// the limiter key so init and verify budgets stay independent.
func RateLimit(limiter ratelimit.Limiter, op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(op + ":" + ClientIP(r)) {
			utils.JSONResponse(w, http.StatusTooManyRequests, map[string]string{"detail": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

// CollectorAuth gates the evidence endpoint behind a shared collector key
// when one is configured. The key travels in X-Collector-Key and is checked
// against a bcrypt hash. With no hash configured the endpoint stays open.
func CollectorAuth(keyHash string, next http.HandlerFunc) http.HandlerFunc {
	if keyHash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Collector-Key")
		if key == "" || bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			utils.JSONResponse(w, http.StatusUnauthorized, map[string]string{"detail": "collector key required"})
			return
		}
		next(w, r)
	}
}
