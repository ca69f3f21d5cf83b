package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the scrape endpoint on its own port, outside the API's
// authentication, rate limiting and request timeout.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds a Server exposing gatherer at /metrics. A nil gatherer
// scrapes the default registry, which is where New(nil) registers.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics:   true,
		MaxRequestsInFlight: 4,
	}))
	mux.Handle("GET /{$}", http.RedirectHandler("/metrics", http.StatusFound))

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: slog.Default().With("component", "metrics-server"),
	}
}

// Handler returns the scrape mux.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start listens in the background. A listen failure is logged; the API keeps
// serving without metrics.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
