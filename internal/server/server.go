package server

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmesh-ai/meshd/internal/auth"
	"github.com/agentmesh-ai/meshd/internal/ratelimit"
)

// CORSConfig controls cross-origin access to the HTTP surface.
type CORSConfig struct {
	Enabled          bool          `json:"enabled"           toml:"enabled"           yaml:"enabled"`
	AllowOrigins     []string      `json:"allowOrigins"      toml:"allow_origins"     yaml:"allow_origins"`
	AllowMethods     []string      `json:"allowMethods"      toml:"allow_methods"     yaml:"allow_methods"`
	AllowedHeaders   []string      `json:"allowedHeaders"    toml:"allowed_headers"   yaml:"allowed_headers"`
	ExposedHeaders   []string      `json:"exposedHeaders"    toml:"exposed_headers"   yaml:"exposed_headers"`
	AllowCredentials bool          `json:"allowCredentials"  toml:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           time.Duration `json:"maxAge"            toml:"max_age"           yaml:"max_age"`
}

// Options contains the configurable options for a Server.
type Options struct {
	CORS            CORSConfig
	ShutdownTimeout time.Duration
	RegisterAPI     func(api huma.API)
}

// Option defines a functional option for configuring Server behavior.
type Option func(*Options) error

// WithCORS enables CORS with the given configuration.
func WithCORS(cfg CORSConfig) Option {
	return func(o *Options) error {
		o.CORS = cfg
		return nil
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		o.ShutdownTimeout = d
		return nil
	}
}

// WithAPIRegistrar installs the management API routes under /api/v1.
func WithAPIRegistrar(fn func(api huma.API)) Option {
	return func(o *Options) error {
		if fn == nil {
			return fmt.Errorf("api registrar cannot be nil")
		}
		o.RegisterAPI = fn
		return nil
	}
}

func defaultServerOptions() Options {
	return Options{
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server hosts the protocol endpoint, the notification push channel, the
// management API and the metrics endpoint behind the auth and rate-limit
// boundary.
type Server struct {
	logger     hclog.Logger
	addr       string
	dispatcher *Dispatcher
	verifier   *auth.Verifier
	limiter    *ratelimit.Limiter
	push       *PushChannel

	cors            CORSConfig
	shutdownTimeout time.Duration
	registerAPI     func(api huma.API)
}

// New creates a server binding addr.
func New(
	logger hclog.Logger,
	addr string,
	dispatcher *Dispatcher,
	verifier *auth.Verifier,
	limiter *ratelimit.Limiter,
	push *PushChannel,
	opts ...Option,
) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if addr == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("auth verifier cannot be nil")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter cannot be nil")
	}
	if push == nil {
		return nil, fmt.Errorf("push channel cannot be nil")
	}

	options := defaultServerOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	return &Server{
		logger:          logger.Named("server"),
		addr:            addr,
		dispatcher:      dispatcher,
		verifier:        verifier,
		limiter:         limiter,
		push:            push,
		cors:            options.CORS,
		shutdownTimeout: options.ShutdownTimeout,
		registerAPI:     options.RegisterAPI,
	}, nil
}

// Handler builds the full HTTP handler. Exposed for tests.
func (s *Server) Handler() (http.Handler, error) {
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)

	if s.cors.Enabled {
		s.applyCORS(mux)
	}

	// The protocol surface sits behind auth first, then rate limiting, so an
	// unauthenticated request is rejected before it consumes budget.
	mux.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Use(s.limiter.Middleware)
		r.Post("/mcp", s.handleMCP)
		r.Get("/mcp/events", s.push.ServeHTTP)
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/healthz", s.handleHealthz)

	if s.registerAPI != nil {
		apiPathPrefix, err := url.JoinPath("/api", "v1")
		if err != nil {
			return nil, err
		}
		router := humachi.New(mux, huma.DefaultConfig("meshd management API", "v1"))
		s.registerAPI(huma.NewGroup(router, apiPathPrefix))
	}

	return mux, nil
}

// Start serves until the context is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting server", "address", s.addr)
		if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.dispatcher.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down server...")
		_ = srv.Shutdown(shutdownCtx)
		s.logger.Info("Shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleMCP answers one JSON-RPC request. Protocol failures are carried in
// the response body; the HTTP status stays 200 except when the server is
// closed.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher.State() == StateClosed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server is closed"})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), r.Body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": s.dispatcher.State().String()})
}

func (s *Server) applyCORS(mux *chi.Mux) {
	s.logger.Info("Enabling CORS", "origins", s.cors.AllowOrigins)

	corsOptions := cors.Options{
		AllowedOrigins:   s.cors.AllowOrigins,
		AllowedMethods:   s.cors.AllowMethods,
		AllowedHeaders:   s.cors.AllowedHeaders,
		ExposedHeaders:   s.cors.ExposedHeaders,
		AllowCredentials: s.cors.AllowCredentials,
		MaxAge:           int(s.cors.MaxAge.Seconds()),
	}

	for i, origin := range corsOptions.AllowedOrigins {
		if origin == "*" {
			corsOptions.AllowedOrigins = []string{"*"}
			corsOptions.AllowCredentials = false
			break
		}
		corsOptions.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	mux.Use(cors.Handler(corsOptions))
}
