package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:7420"

// Config holds server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	ReadTimeout time.Duration
}

// DefaultConfig returns default server configuration. There is no write
// timeout because event streams stay open.
func DefaultConfig() Config {
	return Config{
		Addr:        DefaultAddr,
		CORSOrigins: []string{"*"},
		ReadTimeout: 30 * time.Second,
	}
}

// Options wires the server to the engine.
type Options struct {
	Config  Config
	Service *session.Service
	Router  *toolcall.Router
	Clients *clienttool.Registry
	MCP     *mcp.Client // optional
	Logger  *zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	config  Config
	router  *chi.Mux
	httpSrv *http.Server
	service *session.Service
	tools   *toolcall.Router
	clients *clienttool.Registry
	mcp     *mcp.Client
	log     zerolog.Logger
}

// New creates a Server with its routes mounted.
func New(opts Options) *Server {
	log := logging.Component("server")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Config.Addr == "" {
		opts.Config.Addr = DefaultAddr
	}
	s := &Server{
		config:  opts.Config,
		router:  chi.NewRouter(),
		service: opts.Service,
		tools:   opts.Router,
		clients: opts.Clients,
		mcp:     opts.MCP,
		log:     log,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// requestLogger logs each request at debug level once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("requestID", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
