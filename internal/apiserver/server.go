// Package apiserver exposes runs over a small REST API.
package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/store"
)

// Server is the reagent REST API server. Runs posted to it are picked up by
// the run controller through the shared store.
type Server struct {
	router  *mux.Router
	runs    *store.Runs
	backend llm.Client
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a fully-wired Server ready to Start(). backend is only
// used for health checks and may be nil.
func NewServer(addr string, runs *store.Runs, backend llm.Client, logger *zap.Logger) *Server {
	srv := &Server{
		router:  mux.NewRouter(),
		runs:    runs,
		backend: backend,
		logger:  logger,
	}
	srv.server = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serving HTTP requests. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	s.logger.Info("API server starting", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// logRequests logs every request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
