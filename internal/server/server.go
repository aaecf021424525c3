// Package server exposes the HTTP API: the streaming generate endpoint
// and the project management routes.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/covalabs/coval/internal/engine"
	"github.com/covalabs/coval/pkg/config"
	"github.com/covalabs/coval/pkg/observability"
	"github.com/covalabs/coval/pkg/project"
	"github.com/covalabs/coval/pkg/sandbox"
)

// Server is the HTTP front end.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	client   *sandbox.Client
	cache    *sandbox.Cache
	projects project.Store

	httpServer *http.Server

	mu       sync.Mutex
	active   map[string]struct{}
	limiters map[string]*rate.Limiter
}

// New creates a server.
func New(cfg *config.Config, eng *engine.Engine, client *sandbox.Client, cache *sandbox.Cache, projects project.Store) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		client:   client,
		cache:    cache,
		projects: projects,
		active:   make(map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/state", s.handleProjectState)
	mux.HandleFunc("GET /api/projects/{id}/files", s.handleProjectFiles)

	mux.HandleFunc("GET /healthz", observability.HealthHandler())
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return s.withLoggingAndMetrics(mux)
}

// Start runs the HTTP server until ListenAndServe returns.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: generate responses stream for up to the
		// full generation bound.
		IdleTimeout: 120 * time.Second,
	}
	log.Printf("[server] listening on %s", s.cfg.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the wrapped writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withLoggingAndMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		observability.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), duration)
		log.Printf("[server] %s %s %d %s", r.Method, r.URL.Path, rec.status, duration)
	})
}

// limiterFor returns the per-client rate limiter, keyed by remote IP.
func (s *Server) limiterFor(r *http.Request) *rate.Limiter {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.Limits.RequestsPerSecond), s.cfg.Limits.Burst)
		s.limiters[host] = lim
	}
	return lim
}

// tryAcquireSession marks a session as having an active run. It returns
// false when another run already holds it; there is at most one writer
// per session.
func (s *Server) tryAcquireSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Server) releaseSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
