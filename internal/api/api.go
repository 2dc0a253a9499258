// Package api provides HTTP handlers and the main API server logic for HealthLog.
//
// It exposes JSON endpoints for the staged daily log conversation: audio and
// photo submissions, the carb answer, the final summary, session inspection,
// and reset. The API integrates with the flow, store, and models modules.
// Sessions are identified by an opaque ID carried in the X-Session-ID header
// or the healthlog_session cookie; records are rehydrated from the store on
// every request and written back after each committed step.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/HealthLog/internal/flow"
	"github.com/BTreeMap/HealthLog/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown once the run context is canceled.
const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080". Defaults to DefaultAddr.
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the conversation machine and the session store to HTTP
// endpoints.
type Server struct {
	machine *flow.Machine
	st      store.Store
	mux     *http.ServeMux
	addr    string
}

// NewServer creates an API server over the given conversation machine and
// session store.
func NewServer(machine *flow.Machine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		machine: machine,
		st:      st,
		mux:     http.NewServeMux(),
		addr:    addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /session", s.getSessionHandler)
	s.mux.HandleFunc("POST /session/audio", s.audioHandler)
	s.mux.HandleFunc("POST /session/photo", s.photoHandler)
	s.mux.HandleFunc("POST /session/carbs", s.carbAnswerHandler)
	s.mux.HandleFunc("POST /session/summary", s.summaryHandler)
	s.mux.HandleFunc("POST /session/reset", s.resetHandler)
	s.mux.HandleFunc("GET /entries", s.entriesHandler)
}

// securityHeaders sets standard security response headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ServeHTTP serves one request through the middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(securityHeaders(s.mux)).ServeHTTP(w, r)
}

// Run starts the HTTP server and blocks until the context is canceled or the
// listener fails. Cancellation triggers a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("Server.Run: API server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		slog.Info("Server.Run: API server stopped")
		return nil
	}
}
