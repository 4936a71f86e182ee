package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/pipeline-gateway/internal/pkg/auth"
)

// Options tunes the middleware chain.
type Options struct {
	// Authenticator enables bearer-key auth when it has keys.
	Authenticator *auth.Authenticator
	// Public marks requests that bypass auth, e.g. health checks.
	Public func(*http.Request) bool
	// RequestTimeout bounds requests not matched by Streaming. Zero disables it.
	RequestTimeout time.Duration
	// Streaming marks long-lived requests exempt from RequestTimeout.
	Streaming func(*http.Request) bool
	// ServiceName names the otel server spans.
	ServiceName string
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

func New(port int, logger *slog.Logger, opts Options) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "pipeline-gateway"
	}
	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	})

	r.Use(AuthMiddleware(opts.Authenticator, opts.Public))
	r.Use(TimeoutMiddleware(opts.RequestTimeout, opts.Streaming))

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		http: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves on the configured port until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
