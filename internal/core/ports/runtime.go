package ports

import (
	"context"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
)

// ConfigProvider loads and watches configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher publishes invocation lifecycle events.
// Implementations: direct storage, in-process signals, metrics.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}
