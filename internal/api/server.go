package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josepht96/scoutrun/internal/auth"
	"github.com/josepht96/scoutrun/internal/report"
	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/scheduler"
	"github.com/josepht96/scoutrun/internal/storage"
)

// Server handles HTTP requests
type Server struct {
	storage       *storage.Storage
	runner        *runner.Runner
	reports       *report.Service
	scheduler     *scheduler.Scheduler
	authenticator auth.Authenticator
	limiter       auth.RateLimiter
	gatherer      prometheus.Gatherer
	logger        *slog.Logger
	port          int
	router        chi.Router
}

// Config contains server configuration
type Config struct {
	Storage   *storage.Storage
	Runner    *runner.Runner
	Reports   *report.Service
	Scheduler *scheduler.Scheduler
	// Authenticator defaults to auth.Anonymous.
	Authenticator auth.Authenticator
	// Limiter throttles run triggers per caller; nil disables it.
	Limiter auth.RateLimiter
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Port     int
}

// NewServer creates a new HTTP server
func NewServer(config Config) *Server {
	if config.Authenticator == nil {
		config.Authenticator = auth.Anonymous{}
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{
		storage:       config.Storage,
		runner:        config.Runner,
		reports:       config.Reports,
		scheduler:     config.Scheduler,
		authenticator: config.Authenticator,
		limiter:       config.Limiter,
		gatherer:      config.Gatherer,
		logger:        config.Logger,
		port:          config.Port,
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler so the server can be used directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		read := r.With(s.require(auth.CapRunsRead))
		edit := r.With(s.require(auth.CapCatalogEdit))
		trigger := r.With(s.require(auth.CapRunsTrigger), s.rateLimit)
		reports := r.With(s.require(auth.CapReports))

		read.Get("/environments", s.handleListEnvironments)
		edit.Post("/environments", s.handleCreateEnvironment)

		read.Get("/collections", s.handleListCollections)
		read.Get("/collections/{id}", s.handleGetCollection)
		edit.Post("/collections", s.handleCreateCollection)
		edit.Delete("/collections/{id}", s.handleDeleteCollection)
		edit.Post("/collections/{id}/requests", s.handleCreateRequest)
		edit.Put("/requests/{id}", s.handleUpdateRequest)
		edit.Delete("/requests/{id}", s.handleDeleteRequest)

		trigger.Post("/collections/{id}/run", s.handleRunCollection)
		trigger.Post("/tester/execute", s.handleExecute)

		read.Get("/runs", s.handleListRuns)
		read.Get("/runs/{id}", s.handleGetRun)

		edit.Post("/scenarios", s.handleCreateScenario)
		edit.Post("/testcases", s.handleCreateTestCase)
		read.Get("/testcases/{id}", s.handleGetTestCase)
		edit.Put("/testcases/{id}", s.handleUpdateTestCase)

		reports.Post("/automation-report/create", s.handleCreateReport)
		reports.Post("/automation-report/finalize", s.handleFinalizeReport)
		reports.Post("/automation-report/{report_id}/recompute", s.handleRecomputeReport)
		read.Get("/automation-report/{report_id}", s.handleGetReport)

		trigger.Post("/scheduler/run", s.handleSchedulerRun)
		read.Get("/scheduler/stats", s.handleSchedulerStats)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
