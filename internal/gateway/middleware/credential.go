// Package middleware provides the HTTP middleware of the question-answering
// API: credential extraction, optional service-key authentication, CORS and
// rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

type contextKey string

const (
	credentialKey  contextKey = "credential"
	apiKeyInfoKey  contextKey = "api_key_info"
	providerKeyKey contextKey = "provider_key_pending"
)

// Credential stores the bearer token of the Authorization header, if any,
// in the request context. It never rejects a request.
func Credential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), credentialKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CredentialFrom returns the bearer token stored by Credential, or "".
func CredentialFrom(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey).(string)
	return token
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// exempt reports whether path skips authentication and rate limiting.
func exempt(path string) bool {
	return path == "/" || strings.HasPrefix(path, "/health")
}

func writeError(w http.ResponseWriter, err error, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatusCode(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":   apperrors.Kind(err),
			"detail": detail,
		},
	})
}
