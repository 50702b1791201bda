// Package server exposes the ingest daemon: an HTTP API that accepts JSON
// log records and persists them through the appender.
//
// Routes:
//
//	POST /api/ingest  — single record or array of records (optionally gzipped)
//	GET  /api/health  — liveness plus instance identity
//	GET  /metrics     — Prometheus counters for the ingest path
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/roach88/sqlog/internal/appender"
)

type Options struct {
	Addr string

	// AuthToken protects /api/ingest when non-empty. When empty and
	// GenerateToken is set, a token is minted at construction and logged.
	// Empty without GenerateToken leaves the endpoint open.
	AuthToken     string
	GenerateToken bool
	Tokens        TokenGenerator

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

type Server struct {
	app     *appender.Appender
	ex      appender.Execer
	opts    Options
	log     *slog.Logger
	metrics *Metrics

	instanceID string
	token      string
	started    time.Time

	parsers fastjson.ParserPool
}

func New(app *appender.Appender, ex appender.Execer, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tokens == nil {
		opts.Tokens = UUIDGenerator{}
	}

	s := &Server{
		app:        app,
		ex:         ex,
		opts:       opts,
		log:        opts.Logger,
		metrics:    NewMetrics(),
		instanceID: uuid.NewString(),
		token:      opts.AuthToken,
		started:    time.Now(),
	}

	if s.token == "" && opts.GenerateToken {
		s.token = opts.Tokens.Generate()
		s.log.Info("generated ingest auth token", "token", s.token)
	}

	return s
}

// AuthToken returns the effective bearer token, empty when auth is disabled.
func (s *Server) AuthToken() string {
	return s.token
}

// Metrics exposes the server's counters, mainly for tests.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/ingest", s.handleIngest)
		})
	})

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Mount(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			s.log.Info("signal caught, draining", "signal", sig.String())
		case <-ctx.Done():
			s.log.Info("context cancelled, draining")
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		shutdown <- srv.Shutdown(drainCtx)
	}()

	s.log.Info("ingest server started", "addr", srv.Addr, "instance", s.instanceID)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	s.log.Info("ingest server stopped", "addr", srv.Addr)

	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Instance  string `json:"instance"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Instance:  s.instanceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}
