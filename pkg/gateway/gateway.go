// Package gateway provides the public API for embedding the pipeline gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
	"github.com/tjfontaine/pipeline-gateway/internal/registration"
	"github.com/tjfontaine/pipeline-gateway/internal/runtime"
)

// Gateway is the main entry point for running the pipeline gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// Config is the gateway configuration read from config.yaml.
type Config = config.Config

// Pipeline is the contract a mounted pipeline implements. Most pipelines
// are built with pkg/runnable rather than implementing it directly.
type Pipeline = ports.Pipeline

// MountSpec describes one mount for WithMountSpec.
type MountSpec = mount.Spec

// Batch policies for MountSpec.BatchPolicy.
const (
	BatchPartial      = domain.BatchPartial
	BatchAllOrNothing = domain.BatchAllOrNothing
)

// New creates a new Gateway with the given options. The built-in pipeline
// types are registered first, so config mounts may name them.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithMount("/summarize", "summarize", summarizer.Runnable()),
//	)
func New(opts ...Option) (*Gateway, error) {
	registration.RegisterBuiltins()
	return runtime.New(opts...)
}

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Mounts
	WithMount     = runtime.WithMount
	WithMountSpec = runtime.WithMountSpec

	// Authentication
	WithAPIKeys = runtime.WithAPIKeys

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithMemoryStore     = runtime.WithMemoryStore
	WithInvocationStore = runtime.WithInvocationStore

	// Events and metrics
	WithEventPublisher = runtime.WithEventPublisher
	WithMetrics        = runtime.WithMetrics

	// Advanced options
	WithLogger     = runtime.WithLogger
	WithLogLevel   = runtime.WithLogLevel
	WithListenAddr = runtime.WithListenAddr
)
