// Package invoke serves the HTTP endpoints of one mount: introspection of
// its schemas and one POST endpoint per supported invocation mode.
//
// Every mode handler follows the same steps: decode the envelope strictly,
// validate input and config against the mount's cached schemas, dispatch
// into the pipeline exactly once, and translate the result into a JSON body
// or a frame stream. Validation failures never reach the pipeline.
package invoke

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/schema"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
)

// DefaultMaxRequestBytes bounds request bodies when Options leaves it unset.
const DefaultMaxRequestBytes int64 = 1 << 20

// Options configures the handlers of a mount.
type Options struct {
	Logger *slog.Logger
	// Publisher receives lifecycle events; nil disables them.
	Publisher ports.EventPublisher
	// MaxRequestBytes bounds request bodies. Negative disables the limit.
	MaxRequestBytes int64
}

// Handler serves one mount.
type Handler struct {
	mount     *mount.Mount
	logger    *slog.Logger
	publisher ports.EventPublisher
	maxBytes  int64
}

// NewHandler creates the handler for m.
func NewHandler(m *mount.Mount, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxRequestBytes
	switch {
	case maxBytes == 0:
		maxBytes = DefaultMaxRequestBytes
	case maxBytes < 0:
		maxBytes = 0
	}
	return &Handler{
		mount:     m,
		logger:    logger.With(slog.String("mount", m.Path)),
		publisher: opts.Publisher,
		maxBytes:  maxBytes,
	}
}

// Register mounts the handler's routes under m.Path on r.
func Register(r chi.Router, m *mount.Mount, opts Options) {
	NewHandler(m, opts).Routes(r)
}

// Routes registers the mount's endpoints. Only supported modes get a
// route; the others fall through to the router's not-found handler.
func (h *Handler) Routes(r chi.Router) {
	r.Route(h.mount.Path, func(r chi.Router) {
		r.Get("/", h.handleInfo)
		r.Get("/input_schema", h.handleSchema(func(s *schema.Set) *schema.Descriptor { return s.Input }))
		r.Get("/output_schema", h.handleSchema(func(s *schema.Set) *schema.Descriptor { return s.Output }))
		r.Get("/config_schema", h.handleSchema(func(s *schema.Set) *schema.Descriptor { return s.Config }))

		for _, mode := range h.mount.Modes {
			switch mode {
			case domain.ModeInvoke:
				r.Post("/invoke", h.handleInvoke)
			case domain.ModeBatch:
				r.Post("/batch", h.handleBatch)
			case domain.ModeStream:
				r.Post("/stream", h.handleStream)
			case domain.ModeStreamEvents:
				r.Post("/stream_events", h.handleStreamEvents)
			}
		}
	})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, h.mount.Info())
}

func (h *Handler) handleSchema(pick func(*schema.Set) *schema.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, pick(h.mount.Schemas))
	}
}
