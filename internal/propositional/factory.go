package propositional

import (
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/pipeline"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
)

// PipelineType is the pipeline type identifier used in mount configuration.
const PipelineType = "propositional"

// RegisterFactory registers the propositional retrieval pipeline factory.
func RegisterFactory() {
	if pipeline.IsRegistered(PipelineType) {
		return
	}
	pipeline.RegisterFactory(pipeline.Factory{
		Type:        PipelineType,
		Description: "Retrieval-then-generation over the built-in proposition corpus",
		Create: func(config.MountConfig) (ports.Pipeline, error) {
			return New().Runnable(), nil
		},
	})
}
