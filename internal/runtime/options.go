package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/pipeline-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/pipeline-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/metrics"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/auth"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
	"github.com/tjfontaine/pipeline-gateway/internal/storage/memory"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload.
// The path should point to a config.yaml file that will be watched for
// changes; a missing file falls back to environment and defaults. Apply
// WithLogger first for the watcher to log through it.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.configProvider = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.configProvider = provider
		return nil
	}
}

// WithConfig uses a fixed configuration with no reloading.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		g.staticConfig = cfg
		return nil
	}
}

// WithMount serves p at path in addition to the configured mounts.
func WithMount(path, name string, p ports.Pipeline) Option {
	return WithMountSpec(mount.Spec{Path: path, Name: name, Pipeline: p})
}

// WithMountSpec adds a mount with full control over its metadata and batch
// policy.
func WithMountSpec(spec mount.Spec) Option {
	return func(g *Gateway) error {
		g.specs = append(g.specs, spec)
		return nil
	}
}

// WithSQLite stores invocation records in SQLite at path.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithMemoryStore keeps invocation records in process memory.
func WithMemoryStore() Option {
	return func(g *Gateway) error {
		g.store = memory.New()
		return nil
	}
}

// WithInvocationStore sets a custom invocation store.
func WithInvocationStore(store ports.InvocationStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithEventPublisher adds a publisher that receives every lifecycle event
// alongside the built-in ones.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		if publisher == nil {
			return fmt.Errorf("event publisher is nil")
		}
		g.publishers = append(g.publishers, publisher)
		return nil
	}
}

// WithMetrics records metrics into c instead of a collector of the
// gateway's own, so an embedder can expose them elsewhere too.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gateway) error {
		g.metrics = c
		return nil
	}
}

// WithAPIKeys accepts the given bearer keys in addition to the configured
// key hashes.
func WithAPIKeys(keys ...string) Option {
	return func(g *Gateway) error {
		for _, key := range keys {
			if key == "" {
				return fmt.Errorf("api key cannot be empty")
			}
			g.apiKeyHashes = append(g.apiKeyHashes, auth.HashAPIKey(key))
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithLogLevel lets the gateway set level from logging.level, at startup
// and on every config reload. level should back the logger's handler.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(g *Gateway) error {
		g.level = level
		return nil
	}
}

// WithListenAddr overrides the listen address derived from server.port,
// e.g. "127.0.0.1:0" in tests.
func WithListenAddr(addr string) Option {
	return func(g *Gateway) error {
		g.listenAddr = addr
		return nil
	}
}
