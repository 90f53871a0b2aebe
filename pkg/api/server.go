// Package api exposes the task engine as a JSON control surface.
//
// Routes:
//
//	POST /v1/tasks                     start a task, returns session + first step
//	POST /v1/tasks/run                 run a task to completion
//	GET  /v1/tasks/{taskID}            store projection of a task
//	POST /v1/tasks/{taskID}/next       plan the next step
//	POST /v1/tasks/{taskID}/execute    execute one step
//	POST /v1/tasks/{taskID}/close      close the session (explicit)
//	DELETE /v1/tasks/{taskID}          tear down and forget a task
//	GET  /metrics                      Prometheus metrics
//
// Every reply is {success, result?, error?, done?}.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/orchestrator"
	"github.com/entrhq/browsepilot/pkg/store"
)

var apiLog *logging.Logger

func init() {
	apiLog = logging.MustComponent("api")
}

const shutdownTimeout = 30 * time.Second

// Config configures a Server.
type Config struct {
	Registry *orchestrator.Registry
	Store    *store.Store

	// RunTimeout bounds POST /v1/tasks/run. Zero means the request context.
	RunTimeout time.Duration
}

// Server serves the control surface.
type Server struct {
	registry   *orchestrator.Registry
	store      *store.Store
	runTimeout time.Duration
	router     chi.Router
}

// NewServer creates a Server and its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator registry is required")
	}
	st := cfg.Store
	if st == nil {
		st = store.New()
	}

	s := &Server{
		registry:   cfg.Registry,
		store:      st,
		runTimeout: cfg.RunTimeout,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Post("/run", s.handleRun)
		r.Get("/{taskID}", s.handleGetTask)
		r.Delete("/{taskID}", s.handleDeleteTask)
		r.Post("/{taskID}/next", s.handleNext)
		r.Post("/{taskID}/execute", s.handleExecute)
		r.Post("/{taskID}/close", s.handleClose)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the projection store the server feeds.
func (s *Server) Store() *store.Store {
	return s.store
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down and closes every
// task session, preserved ones included.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		apiLog.Infof("listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		apiLog.Warnf("http shutdown: %v", err)
	}
	if err := s.registry.CloseAll(shutdownCtx, orchestrator.CloseReasonShutdown); err != nil {
		apiLog.Warnf("closing task sessions: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		apiLog.Infof("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}
