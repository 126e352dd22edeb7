// Package statusapi exposes a read-only HTTP view of a running watcher.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/watcher"
)

// StatusSource supplies the snapshot served on /status.
type StatusSource interface {
	Status() watcher.Status
}

// NewRouter returns the status handler.
//
// Route layout:
//
//	GET /healthz  liveness probe
//	GET /status   watcher snapshot as JSON
//	GET /metrics  Prometheus exposition (when gatherer is non-nil)
func NewRouter(source StatusSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, source.Status())
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server serves the router on one listener.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds addr. Serving starts with Serve.
func Listen(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logging.NewComponentLogger(logger, "statusapi"),
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve runs in the background until Shutdown.
func (s *Server) Serve() {
	s.logger.Info("status endpoint listening", logging.String("addr", s.Addr()))
	go func() {
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(s.logger, "status endpoint stopped", "status_api_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status and metrics unavailable until restart"),
			)
		}
	}()
}

// Shutdown stops accepting requests and waits up to five seconds for
// in-flight ones.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
