package middleware

import (
	"net/http"
	"strings"
)

// corsRoutes are the routes browsers may call cross-origin, with the method
// each accepts. Cache invalidation and health stay same-origin.
var corsRoutes = map[string]string{
	"/hackrx/run":         http.MethodPost,
	"/api/v1/qa/run":      http.MethodPost,
	"/api/v1/cache/stats": http.MethodGet,
	"/api/v1/analytics":   http.MethodGet,
}

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Retry-After"
	corsMaxAge        = "600"
)

// CORS returns middleware that lets browsers on allowedOrigins call the
// question-answering routes. "*" allows any origin. Other paths get no CORS
// headers, and their preflights fall through to the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := false
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		origins[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method, ok := corsRoutes[r.URL.Path]
			origin := r.Header.Get("Origin")
			if !ok || origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			if !anyOrigin && !origins[origin] {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", method+", "+http.MethodOptions)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}
