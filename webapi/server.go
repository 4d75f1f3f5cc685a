package webapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"sd_backend/core"
	"sd_backend/diffusion"
)

// Invoker is the gateway surface the server needs. Implemented by
// diffusion.Gateway; tests substitute their own.
type Invoker interface {
	Invoke(ctx context.Context, req diffusion.Request) (*diffusion.Result, error)
	Ready(op diffusion.Operation) bool
	Capabilities() []diffusion.Capability
	Status() map[diffusion.Capability]string
}

// HistoryReader serves the history endpoint. Implemented by
// history.Store.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]core.GenerationRecord, error)
}

// RecordSink accepts generation records without blocking the request
// path. Implemented by history.Recorder.
type RecordSink interface {
	Record(record core.GenerationRecord) bool
}

// OperationGuard tracks in-flight generations for graceful shutdown.
// Implemented by shutdown.Manager.
type OperationGuard interface {
	TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// passthroughGuard runs operations untracked. Used when no shutdown
// manager is wired, which only happens in tests.
type passthroughGuard struct{}

func (passthroughGuard) TrackOperation(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind to (default: "0.0.0.0")
	Host string

	// Port to listen on (default: 8000)
	Port int

	// ReadTimeout for HTTP requests (default: 30s)
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. Generous because a sampling
	// run on modest hardware takes minutes (default: 10m)
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections (default: 120s)
	IdleTimeout time.Duration

	// AllowedOrigins for CORS (default: localhost:3000 variants)
	AllowedOrigins []string

	// APIKeyHash is the bcrypt hash guarding POST routes; empty
	// disables auth
	APIKeyHash string

	// Family decides default output dimensions
	Family diffusion.ModelFamily

	// TempDir for sketch upload spooling (default: os.TempDir())
	TempDir string

	// LogSkipPaths are paths excluded from request logging
	LogSkipPaths []string

	// Version reported by the health endpoint
	Version string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8000,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute,
		IdleTimeout:    120 * time.Second,
		AllowedOrigins: core.DefaultAllowedOrigins(),
		Family:         diffusion.FamilySDXL,
		TempDir:        os.TempDir(),
		LogSkipPaths:   []string{"/", "/health", "/gpu-status"},
		Version:        "1.0.0",
	}
}

// generationPaths are the routes that run a pipeline and therefore get
// memory snapshots, cache sweeps, and API-key auth.
var generationPaths = []string{"/generate", "/inpaint", "/erase", "/sketch"}

// Server is the HTTP front of the service. It wires together the
// lifecycle middleware, CORS, optional bearer-key auth, and the
// endpoint handlers.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	config     ServerConfig
	logger     *zap.Logger
	gateway    Invoker
	sampler    MemorySampler
	history    HistoryReader
	recorder   RecordSink
	guard      OperationGuard
	auth       *APIKeyAuth
	lifecycle  *LifecycleMiddleware
	startedAt  time.Time
}

// NewServer creates a configured server. sampler, historyReader,
// recorder, and guard may each be nil; the matching feature degrades
// rather than failing.
func NewServer(
	config ServerConfig,
	gateway Invoker,
	sampler MemorySampler,
	historyReader HistoryReader,
	recorder RecordSink,
	guard OperationGuard,
	logger *zap.Logger,
) (*Server, error) {
	if gateway == nil {
		return nil, fmt.Errorf("webapi: gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = passthroughGuard{}
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}

	lifecycle := NewLifecycleMiddleware(LifecycleConfig{
		SkipPaths:  config.LogSkipPaths,
		HeavyPaths: generationPaths,
	}, sampler, logger)

	s := &Server{
		mux:       http.NewServeMux(),
		config:    config,
		logger:    logger,
		gateway:   gateway,
		sampler:   sampler,
		history:   historyReader,
		recorder:  recorder,
		guard:     guard,
		auth:      NewAPIKeyAuth(config.APIKeyHash, logger),
		lifecycle: lifecycle,
		startedAt: time.Now(),
	}
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.rootHandler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	logger.Info("HTTP server created",
		zap.String("addr", addr),
		zap.Bool("auth_enabled", s.auth.Enabled()),
		zap.Strings("allowed_origins", config.AllowedOrigins),
	)
	return s, nil
}

// setupRoutes configures all the HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/gpu-status", s.handleGPUStatus)
	s.mux.HandleFunc("/history", s.handleHistory)

	s.mux.HandleFunc("/generate", s.auth.MiddlewareFunc(s.handleGenerate))
	s.mux.HandleFunc("/inpaint", s.auth.MiddlewareFunc(s.handleInpaint))
	s.mux.HandleFunc("/erase", s.auth.MiddlewareFunc(s.handleErase))
	s.mux.HandleFunc("/sketch", s.auth.MiddlewareFunc(s.handleSketch))

	s.mux.HandleFunc("/", s.handleRoot)
}

// rootHandler wraps the mux with the lifecycle middleware and CORS.
// CORS sits outermost so preflight requests never hit the handlers.
func (s *Server) rootHandler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.lifecycle.Handler(handler)
	handler = cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", CorrelationIDHeader},
		ExposedHeaders: []string{CorrelationIDHeader, "Content-Disposition"},
		MaxAge:         300,
	})(handler)
	return handler
}

// Handler exposes the fully wrapped handler chain. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening for HTTP requests and blocks until the server
// is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, letting in-flight requests
// finish within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
