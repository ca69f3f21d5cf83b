package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

// RateLimit returns middleware enforcing per-caller limits. Callers with a
// validated service key use that key's limit; everyone else is identified
// by a digest of their credential or by client address and gets
// defaultLimit requests per window.
func RateLimit(limiter *ratelimit.Limiter, defaultLimit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key, limit := callerKey(r), defaultLimit
			if info := GetKeyInfo(r.Context()); info != nil {
				key, limit = "key:"+info.ID, info.RateLimit
			}
			if !limiter.Allow(key, limit) {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, apperrors.ErrRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if cred := CredentialFrom(r.Context()); cred != "" {
		return "cred:" + apikey.HashKey(cred)[:16]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
