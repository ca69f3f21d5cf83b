// Package router wires the API routes and applies the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/ratelimit"
	gwmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/gateway/middleware"
	qahandler "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/middleware"
)

// Options carries the collaborators of the router. Validator, Limiter,
// Metrics and Analytics may be nil.
type Options struct {
	QA        *qahandler.Handler
	Health    *health.Checker
	Analytics *analytics.Handler
	Metrics   *metrics.Metrics

	// Validator enables service-key authentication of non-provider
	// credentials.
	Validator      gwmw.KeyValidator
	ProviderPrefix string

	Limiter         *ratelimit.Limiter
	RateLimit       int
	RateLimitWindow time.Duration

	RequestTimeout time.Duration

	// CORSOrigins may call the API routes from a browser. "*" allows any.
	CORSOrigins []string
}

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /                          → liveness message
//	POST   /hackrx/run                → answer questions about a document
//	POST   /api/v1/qa/run             → same as /hackrx/run
//	GET    /api/v1/cache/stats        → answer cache counters
//	POST   /api/v1/cache/invalidate   → drop cached answers
//	GET    /api/v1/analytics          → aggregated request statistics
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → Credential → Auth → RateLimit → Timeout → mux
func New(opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", opts.QA.Root)
	mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())

	mux.HandleFunc("POST /hackrx/run", opts.QA.Run)
	mux.HandleFunc("POST /api/v1/qa/run", opts.QA.Run)

	mux.HandleFunc("GET /api/v1/cache/stats", opts.QA.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", opts.QA.CacheInvalidate)

	if opts.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", opts.Analytics.Stats)
	}

	var chain http.Handler = mux
	chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	if opts.Limiter != nil {
		chain = gwmw.RateLimit(opts.Limiter, opts.RateLimit, opts.RateLimitWindow)(chain)
	}
	if opts.Validator != nil {
		chain = gwmw.Auth(opts.Validator, opts.ProviderPrefix)(chain)
	}
	chain = gwmw.Credential(chain)
	chain = gwmw.CORS(opts.CORSOrigins)(chain)
	chain = pkgmw.Metrics(opts.Metrics)(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
