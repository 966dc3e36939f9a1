// Package server exposes the orchestration core over HTTP: JSON endpoints
// for specs, executions and backends, and Server-Sent Events for live
// execution streams.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/josephgoksu/specwing/internal/apply"
	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/internal/exec"
	"github.com/josephgoksu/specwing/store"
	"github.com/josephgoksu/specwing/types"
)

type Server struct {
	store    store.Store
	coord    *exec.Coordinator
	registry *backend.Registry
	applier  *apply.Applier
	logger   *slog.Logger
	origins  map[string]struct{}
	server   *http.Server
}

// New wires the HTTP surface over the given collaborators.
func New(cfg types.ServerConfig, st store.Store, coord *exec.Coordinator, reg *backend.Registry, applier *apply.Applier, logger *slog.Logger) *Server {
	s := &Server{
		store:    st,
		coord:    coord,
		registry: reg,
		applier:  applier,
		logger:   logger,
		origins:  make(map[string]struct{}, len(cfg.AllowedOrigins)),
	}
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = struct{}{}
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.registerRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/specs", s.handleCreateSpec)
	mux.HandleFunc("GET /api/specs", s.handleListSpecs)
	mux.HandleFunc("GET /api/specs/{id}", s.handleGetSpec)
	mux.HandleFunc("PUT /api/specs/{id}/status", s.handleSetStatus)
	mux.HandleFunc("GET /api/specs/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/specs/{id}/graph", s.handleGraph)
	mux.HandleFunc("POST /api/specs/{id}/dependencies", s.handleAddDependency)
	mux.HandleFunc("DELETE /api/specs/{id}/dependencies/{depId}", s.handleRemoveDependency)
	mux.HandleFunc("POST /api/specs/{id}/execute", s.handleExecute)

	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleEvents)

	mux.HandleFunc("GET /api/backends", s.handleListBackends)
	mux.HandleFunc("POST /api/backends/{id}/default", s.handleSetDefaultBackend)
	mux.HandleFunc("GET /api/backends/{id}/health", s.handleBackendHealth)

	mux.HandleFunc("GET /api/messages/{id}/changes", s.handleListFileChanges)
	mux.HandleFunc("POST /api/changes/{id}/apply", s.handleApplyChange)
	mux.HandleFunc("POST /api/changes/{id}/reject", s.handleRejectChange)

	return s.corsMiddleware(mux)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(wg *sync.WaitGroup, errChan chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("api server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
