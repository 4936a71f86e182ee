package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
)

// TypeWebhook is the pipeline type of the webhook factory.
const TypeWebhook = "webhook"

// Factory defines how to create a pipeline of a specific type from a mount
// entry.
type Factory struct {
	// Type is the identifier used by the mount's pipeline key.
	Type string

	// Description provides a human-readable description of the pipeline.
	Description string

	// Create instantiates the pipeline for one mount.
	Create func(cfg config.MountConfig) (ports.Pipeline, error)

	// ValidateConfig performs type-specific validation.
	// Optional: if nil, no additional validation is performed.
	ValidateConfig func(cfg config.MountConfig) error
}

var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[string]Factory)
	factoryList []Factory
)

// RegisterFactory registers a pipeline factory. Panics if the type is
// empty, has no Create function or is already registered.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("pipeline factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("pipeline factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("pipeline factory %q already registered", f.Type))
	}

	factoryMap[f.Type] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for a pipeline type, if registered.
func GetFactory(pipelineType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[pipelineType]
	return f, ok
}

// IsRegistered returns true if a pipeline type is registered.
func IsRegistered(pipelineType string) bool {
	_, ok := GetFactory(pipelineType)
	return ok
}

// ListTypes returns the registered pipeline types, sorted.
func ListTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, len(factoryList))
	for i, f := range factoryList {
		types[i] = f.Type
	}
	sort.Strings(types)
	return types
}

// CreateFromConfig creates the pipeline a mount entry names.
func CreateFromConfig(cfg config.MountConfig) (ports.Pipeline, error) {
	f, ok := GetFactory(cfg.Pipeline)
	if !ok {
		return nil, fmt.Errorf("unknown pipeline type %q (registered types: %v)", cfg.Pipeline, ListTypes())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for pipeline type %s: %w", cfg.Pipeline, err)
		}
	}

	return f.Create(cfg)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]Factory)
	factoryList = nil
}

// Specs converts mount entries into mount specs. Pipelines are created
// when the registry is built, so a failing factory rejects only its mount.
func Specs(mounts []config.MountConfig) []mount.Spec {
	specs := make([]mount.Spec, 0, len(mounts))
	for _, m := range mounts {
		cfg := m
		specs = append(specs, mount.Spec{
			Path:        cfg.Path,
			Name:        cfg.Name,
			Description: cfg.Description,
			BatchPolicy: domain.BatchPolicy(cfg.BatchPolicy),
			New: func() (ports.Pipeline, error) {
				return CreateFromConfig(cfg)
			},
		})
	}
	return specs
}

// RegisterWebhookFactory registers the factory that builds webhook
// pipelines from a mount's webhook section.
func RegisterWebhookFactory() {
	if IsRegistered(TypeWebhook) {
		return
	}
	RegisterFactory(Factory{
		Type:        TypeWebhook,
		Description: "Pipeline hosted behind HTTP",
		Create: func(cfg config.MountConfig) (ports.Pipeline, error) {
			w, err := NewWebhook(WebhookConfig{
				URL:          cfg.Webhook.URL,
				Timeout:      cfg.Webhook.Timeout,
				Headers:      cfg.Webhook.Headers,
				AllowPrivate: cfg.Webhook.AllowPrivate,
			})
			if err != nil {
				return nil, err
			}
			return w.Runnable(cfg.Name), nil
		},
		ValidateConfig: func(cfg config.MountConfig) error {
			if cfg.Webhook.URL == "" {
				return fmt.Errorf("webhook.url is required")
			}
			return nil
		},
	})
}
