// Package server exposes the orchestrator over HTTP: the trigger and
// schedule APIs, state snapshots, audit queries, and the websocket push
// channel the dashboard subscribes to.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/internal/config"
	apperrors "github.com/pressfleet/pressfleet/internal/errors"
	"github.com/pressfleet/pressfleet/internal/server/middleware"
	"github.com/pressfleet/pressfleet/pkg/auditlog"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
	"github.com/pressfleet/pressfleet/pkg/scheduler"
)

// Deps carries the collaborators the HTTP layer fronts.
type Deps struct {
	Service   *orchestrator.Service
	Scheduler *scheduler.Scheduler
	Audit     *auditlog.Store
	Logger    *zap.Logger
	Version   string
}

// Server is the HTTP API server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router chi.Router
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{cfg: cfg, deps: deps}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Port
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.deps.Logger.Info("http server listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.deps.Logger))

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/events/ws", s.handleEventsWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/operations", s.handleListOperations)

		r.Post("/batches", s.handleCreateBatch)
		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{batchID}", s.handleGetBatch)
		r.Post("/batches/{batchID}/confirm", s.handleConfirmBatch)
		r.Post("/batches/{batchID}/reject", s.handleRejectBatch)
		r.Post("/batches/{batchID}/cancel", s.handleCancelBatch)

		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Post("/tasks/{taskID}/cancel", s.handleCancelTask)

		r.Get("/state/snapshot", s.handleSnapshot)

		r.Post("/schedules", s.handleCreateSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{scheduleID}", s.handleGetSchedule)
		r.Post("/schedules/{scheduleID}/pause", s.handlePauseSchedule)
		r.Post("/schedules/{scheduleID}/resume", s.handleResumeSchedule)
		r.Delete("/schedules/{scheduleID}", s.handleDeleteSchedule)

		r.Get("/audit", s.handleListAudit)
	})

	return r
}
