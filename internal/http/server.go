// Package http serves the process status endpoints: Prometheus metrics,
// liveness and a JSON status summary.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
)

// StatusFunc reports the service state for /status.
type StatusFunc func() any

// Server is the status HTTP server.
type Server struct {
	server *http.Server
	status StatusFunc
	wg     sync.WaitGroup
}

// NewServer creates a server on addr. metrics may be nil.
func NewServer(addr string, metrics http.Handler, status StatusFunc) *Server {
	s := &Server{status: status}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes(metrics http.Handler) http.Handler {
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(stripHeaders(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", wrap(s.handleHealth))
	mux.HandleFunc("GET /status", wrap(s.handleStatus))
	if metrics != nil {
		mux.Handle("GET /metrics", wrap(metrics.ServeHTTP))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		L_error("http: failed to encode status", "error", err)
	}
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: status server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for open requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}
	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// stripHeaders removes fingerprinting headers.
func stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")
		handler(w, r)
	}
}
