// Package server assembles the HTTP surface: router, middleware chain,
// and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/fathomtel/callsight/internal/errors"
	"github.com/fathomtel/callsight/internal/server/handlers"
	"github.com/fathomtel/callsight/internal/server/middleware"
)

// Options configures the server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// API is the analysis endpoint set. Nil leaves the /api/v1 routes
	// unregistered (used by infrastructure tests).
	API *handlers.API

	// Health is the probe aggregator. Nil gets an empty manager so
	// /health always answers.
	Health *handlers.HealthManager

	Version handlers.VersionInfo
	Logger  *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	host string
	port int
	http *http.Server
	mux  chi.Router
	log  *zap.Logger
}

// New assembles the router and middleware chain.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := opts.Health
	if health == nil {
		health = handlers.NewHealthManager(opts.Version.Version)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Write(w, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Write(w, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path))
	})

	r.Get("/health", health.HealthHandler)
	r.Get("/health/live", health.LiveHandler)
	r.Get("/version", handlers.VersionHandler(opts.Version))

	if opts.API != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/analyze", opts.API.Analyze)
			r.Get("/jobs", opts.API.ListJobs)
			r.Get("/jobs/{jobID}", opts.API.JobStatus)
			r.Get("/jobs/{jobID}/results", opts.API.JobResults)
			r.Get("/calls", opts.API.ListCalls)
			r.Get("/calls/{callID}/transcript", opts.API.Transcript)
			r.Get("/calls/{callID}/participants", opts.API.Participants)
		})
	}

	return &Server{
		host: opts.Host,
		port: opts.Port,
		mux:  r,
		log:  logger.Named("server"),
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.http.Shutdown(ctx)
}
