package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/apikey"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
)

// KeyValidator validates service API keys.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
}

// Auth returns middleware requiring a valid service key on every
// non-exempt request. Credentials starting with providerPrefix are provider
// keys: they pass through marked by ProviderKeyPending and must then be
// accepted by the provider itself, with no fallback to the service's own
// backend. It must run after Credential.
func Auth(validator KeyValidator, providerPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := CredentialFrom(r.Context())
			if key == "" {
				writeError(w, apperrors.ErrUnauthorized, "missing api key")
				return
			}
			if providerPrefix != "" && strings.HasPrefix(key, providerPrefix) {
				ctx := context.WithValue(r.Context(), providerKeyKey, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			info, err := validator.Validate(r.Context(), key)
			switch {
			case err == nil:
			case errors.Is(err, apikey.ErrInvalidKey):
				writeError(w, apperrors.ErrUnauthorized, "invalid api key")
				return
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, apperrors.ErrUnauthorized, "expired api key")
				return
			default:
				logger.FromContext(r.Context()).Error("api key validation failed", "error", err)
				writeError(w, apperrors.ErrInternal, "authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo returns the service key validated by Auth, or nil.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}

// ProviderKeyPending reports whether Auth admitted the request on a provider
// key it could not check itself. Such a request is only authorized once the
// provider accepts the key.
func ProviderKeyPending(ctx context.Context) bool {
	pending, _ := ctx.Value(providerKeyKey).(bool)
	return pending
}
