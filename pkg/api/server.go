// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harun/llmsession/internal/observability"
	"github.com/harun/llmsession/pkg/ledger"
	"github.com/harun/llmsession/pkg/orchestrator"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps POST /generate request bodies.
const maxBodyBytes = 1 << 20

// Orchestrator is the part of *orchestrator.Orchestrator the API uses.
type Orchestrator interface {
	Generate(ctx context.Context, providerID string, payload orchestrator.Payload) (orchestrator.Outcome, error)
	Reset(ctx context.Context, providerID string) error
	Health() []provider.Provider
	Ready() bool
}

// JobStore serves job history; *ledger.Store implements it.
type JobStore interface {
	Get(ctx context.Context, id string) (*ledger.Entry, error)
	Recent(ctx context.Context, providerID string, limit int) ([]ledger.Entry, error)
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Orchestrator Orchestrator
	// Jobs is optional; without it the /jobs routes answer 404.
	Jobs   JobStore
	Logger zerolog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	router chi.Router
	logger zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	observability.EnsureRegistered()

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "api").Logger(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestContext)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Post("/generate", s.handleGenerate)
	r.Delete("/session/{provider}", s.handleResetSession)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{jobID}", s.handleGetJob)
	})
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")

	srv, serveErr := s.server, s.serveErr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
			serveErr <- err
		}
		close(serveErr)
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Err delivers a fatal serve error, and is closed when serving stops.
func (s *Server) Err() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
