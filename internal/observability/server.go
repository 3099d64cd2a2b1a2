// ABOUTME: HTTP listener exposing /metrics and /healthz
// ABOUTME: Runs until its context is canceled, then shuts down gracefully

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthFunc reports a component's health. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// Server serves the metrics registry and a JSON health endpoint.
type Server struct {
	addr      string
	provider  *Provider
	checks    map[string]HealthFunc
	startTime time.Time
	logger    *slog.Logger
}

// NewServer creates a server for provider listening on addr.
func NewServer(addr string, provider *Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		provider:  provider,
		checks:    make(map[string]HealthFunc),
		startTime: time.Now(),
		logger:    logger.With("component", "metrics"),
	}
}

// AddCheck registers a named health check. Call before Run.
func (s *Server) AddCheck(name string, fn HealthFunc) {
	s.checks[name] = fn
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.provider.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run listens until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	code := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("writing health response", "error", err)
	}
}
