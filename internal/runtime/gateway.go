// Package runtime provides the core Gateway struct and lifecycle management
// for the pipeline gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/tjfontaine/pipeline-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/pipeline-gateway/internal/adapters/events/signal"
	"github.com/tjfontaine/pipeline-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/invoke"
	"github.com/tjfontaine/pipeline-gateway/internal/metrics"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/pipeline"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/auth"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
	"github.com/tjfontaine/pipeline-gateway/internal/storage/memory"
)

// Gateway is the main entry point for running the pipeline gateway.
// It owns configuration, the mount registry, lifecycle event publishing and
// the HTTP server. Gateway can be embedded in larger applications or run
// standalone.
type Gateway struct {
	// Dependencies (injected via options)
	configProvider ports.ConfigProvider
	staticConfig   *config.Config
	store          ports.InvocationStore
	publishers     []ports.EventPublisher
	metrics        *metrics.Collector
	specs          []mount.Spec
	apiKeyHashes   []string
	listenAddr     string
	logger         *slog.Logger
	level          *slog.LevelVar

	// Built by New
	cfg       *config.Config
	registry  *mount.Registry
	publisher ports.EventPublisher
	server    *server.Server

	// Lifecycle management
	mu       sync.RWMutex
	cancel   context.CancelFunc
	listener net.Listener
	serveErr chan error
}

// New creates a Gateway with the given options. Mounts are built here, so
// the handler is complete before Start is called. Without a config option
// the built-in defaults are used.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg, err := gw.loadConfig()
	if err != nil {
		return nil, err
	}
	gw.cfg = cfg

	if gw.level != nil {
		level, _ := config.ParseLevel(cfg.Logging.Level)
		gw.level.Set(level)
	}

	if err := gw.initStore(cfg); err != nil {
		return nil, err
	}
	if err := gw.initPublisher(); err != nil {
		return nil, err
	}

	mounts := cfg.Mounts
	if len(mounts) == 0 && len(gw.specs) == 0 {
		mounts = config.DefaultMounts()
	}
	specs := append(pipeline.Specs(mounts), gw.specs...)
	gw.registry = mount.Build(gw.logger, specs...)
	gw.metrics.MountsRejected.Set(float64(len(gw.registry.Errors())))

	gw.server = gw.newServer(cfg)

	return gw, nil
}

func (g *Gateway) loadConfig() (*config.Config, error) {
	switch {
	case g.configProvider != nil:
		cfg, err := g.configProvider.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	case g.staticConfig != nil:
		if err := g.staticConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return g.staticConfig, nil
	default:
		return config.Default(), nil
	}
}

// initStore opens the configured invocation store unless an option already
// supplied one.
func (g *Gateway) initStore(cfg *config.Config) error {
	if g.store != nil {
		return nil
	}
	switch cfg.Storage.Type {
	case "sqlite", "":
		store, err := sqlite.NewProvider(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
	case "memory":
		g.store = memory.New()
	case "none":
		g.logger.Info("invocation records disabled")
	}
	return nil
}

// initPublisher fans lifecycle events out to the store, in-process signals,
// metrics and any publishers given as options.
func (g *Gateway) initPublisher() error {
	if g.metrics == nil {
		g.metrics = metrics.NewCollector()
	}

	var publishers fanout
	if g.store != nil {
		p, err := direct.NewPublisher(g.store)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		publishers = append(publishers, p)
	}
	publishers = append(publishers, signal.NewPublisher(), g.metrics)
	publishers = append(publishers, g.publishers...)
	g.publisher = publishers
	return nil
}

// newServer builds the router: gateway routes first, then one subtree per
// mount.
func (g *Gateway) newServer(cfg *config.Config) *server.Server {
	hashes := append(append([]string{}, cfg.Auth.APIKeyHashes...), g.apiKeyHashes...)
	authenticator := auth.NewAuthenticator(hashes)
	if authenticator.Enabled() {
		g.logger.Info("api key authentication enabled", slog.Int("keys", len(hashes)))
	}

	srv := server.New(cfg.Server.Port, g.logger, server.Options{
		Authenticator:  authenticator,
		Public:         isPublic,
		RequestTimeout: cfg.Server.RequestTimeout,
		Streaming:      isStreaming,
		ServiceName:    cfg.Telemetry.ServiceName,
	})
	r := srv.Router

	// Set before the mounts so their subrouters inherit them.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		server.WriteError(w, r, domain.ErrNotFound("no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		server.WriteError(w, r, domain.ErrNotFound(fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)))
	})

	r.Get("/", g.handleListMounts)
	r.Get("/healthz", g.handleHealth)
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())
	r.Get("/_gateway/invocations", g.handleListInvocations)
	r.Get("/_gateway/invocations/{id}", g.handleGetInvocation)

	opts := invoke.Options{
		Logger:          g.logger,
		Publisher:       g.publisher,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	}
	for _, m := range g.registry.Mounts() {
		invoke.Register(r, m, opts)
	}
	return srv
}

func isPublic(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

func isStreaming(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/stream") || strings.HasSuffix(r.URL.Path, "/stream_events")
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Mounts returns the registered mounts, sorted by path.
func (g *Gateway) Mounts() []*mount.Mount {
	return g.registry.Mounts()
}

// MountErrors returns the errors of mounts rejected at startup.
func (g *Gateway) MountErrors() []*domain.MountError {
	return g.registry.Errors()
}

// Config returns the configuration currently in effect.
func (g *Gateway) Config() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Addr returns the listening address once Start has returned.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Start begins listening and serves in the background. It returns once the
// listener is bound.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listener != nil {
		return errors.New("gateway already started")
	}

	addr := g.listenAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", g.cfg.Server.Port)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	g.listener = ln

	var watchCtx context.Context
	watchCtx, g.cancel = context.WithCancel(ctx)

	g.serveErr = make(chan error, 1)
	go func() {
		err := g.server.Serve(ln)
		if err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
		g.serveErr <- err
	}()

	// Watch returns once the watcher is registered, so edits made after
	// Start are never missed.
	if g.configProvider != nil {
		if err := g.configProvider.Watch(watchCtx, g.applyConfig); err != nil {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("mounts", len(g.registry.Mounts())),
		slog.Int("rejected_mounts", len(g.registry.Errors())))

	return nil
}

// Shutdown gracefully stops the gateway and releases its resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error

	// Stop HTTP server
	if g.listener != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		if err := <-g.serveErr; err != nil {
			errs = append(errs, err)
		}
	}

	// Close resources
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.configProvider != nil {
		if err := g.configProvider.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// applyConfig applies reloadable settings. Mounts are immutable once built,
// so mount changes only take effect after a restart.
func (g *Gateway) applyConfig(newCfg *config.Config) {
	g.mu.Lock()
	old := g.cfg
	g.cfg = newCfg
	g.mu.Unlock()

	if g.level != nil && newCfg.Logging.Level != old.Logging.Level {
		level, err := config.ParseLevel(newCfg.Logging.Level)
		if err != nil {
			g.logger.Warn("ignoring logging level", slog.String("error", err.Error()))
		} else {
			g.level.Set(level)
			g.logger.Info("logging level changed", slog.String("level", level.String()))
		}
	}

	if !reflect.DeepEqual(old.Mounts, newCfg.Mounts) {
		g.logger.Warn("mount configuration changed; restart the gateway to apply it")
	}
	if old.Server != newCfg.Server || !reflect.DeepEqual(old.Auth, newCfg.Auth) || old.Storage != newCfg.Storage {
		g.logger.Warn("process settings changed; restart the gateway to apply them")
	}
}

// fanout publishes each event to every publisher. One failing publisher
// does not stop the others.
type fanout []ports.EventPublisher

func (f fanout) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
