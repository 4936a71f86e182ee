package registration

import (
	"github.com/tjfontaine/pipeline-gateway/internal/pipeline"
	"github.com/tjfontaine/pipeline-gateway/internal/propositional"
)

// RegisterBuiltins registers the built-in pipeline factories explicitly.
// This replaces init-based side effects and is intended to be called from
// cmd/gateway and tests before mounts are built from configuration.
func RegisterBuiltins() {
	propositional.RegisterFactory()
	pipeline.RegisterWebhookFactory()
}
