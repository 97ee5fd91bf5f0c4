// Package metrics serves the Prometheus-format /metrics endpoint the
// grinder_* instruments in internal/observability are registered
// against. Grounded on the teacher's own metrics server, adapted to the
// bootstrap.Runner contract so it starts and stops alongside the live
// loop and syncer under one errgroup instead of its own detached
// goroutine.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridcore/internal/core"
	"gridcore/internal/infrastructure/health"
)

// Server handles Prometheus metrics export, and optionally a /healthz
// endpoint, on its own HTTP listener.
type Server struct {
	port   int
	logger core.ILogger
	health *health.HealthManager
	srv    *http.Server
}

// NewServer creates a new metrics server for the given port. health may
// be nil, in which case /healthz is not mounted.
func NewServer(port int, logger core.ILogger, hm *health.HealthManager) *Server {
	return &Server{
		port:   port,
		logger: logger.WithField("component", "metrics_server"),
		health: hm,
	}
}

// Run starts the metrics HTTP server and blocks until ctx is cancelled,
// satisfying bootstrap.Runner.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		mux.HandleFunc("/healthz", s.serveHealthz)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting prometheus metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetStatus()
	if !s.health.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	for component, state := range status {
		fmt.Fprintf(w, "%s: %s\n", component, state)
	}
}
