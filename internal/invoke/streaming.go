package invoke

import (
	"context"
	"errors"
	"net/http"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
	"github.com/tjfontaine/pipeline-gateway/internal/stream"
)

// errNoStream reports a pipeline that returned neither a stream nor an
// error. Relaying a nil channel would block until the client gave up.
var errNoStream = errors.New("pipeline returned no stream")

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if err := decodeEnvelope(w, r, h.maxBytes, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}
	input, err := decodeInput(h.mount, req.Input, "input")
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	cfg, err := decodeConfig(h.mount, req.Config)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	streamer := h.mount.Pipeline.(ports.Streamer)
	h.serveStream(w, r, domain.ModeStream, func(ctx context.Context, enc *stream.Encoder) error {
		var chunks <-chan domain.Chunk
		err := recoverPipeline(func() error {
			var err error
			chunks, err = streamer.Stream(ctx, input, cfg)
			if err == nil && chunks == nil {
				err = errNoStream
			}
			return err
		})
		if err != nil {
			return stream.Fail(enc, domain.ErrPipelineExecution(err))
		}
		return stream.Relay(ctx, enc, chunks, func(c domain.Chunk) (any, bool, error) {
			if c.Err != nil {
				return nil, false, domain.ErrPipelineExecution(c.Err)
			}
			return c.Delta, false, nil
		})
	})
}

func (h *Handler) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if err := decodeEnvelope(w, r, h.maxBytes, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}
	input, err := decodeInput(h.mount, req.Input, "input")
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	cfg, err := decodeConfig(h.mount, req.Config)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	filter := newStageFilter(req.IncludeStages, req.ExcludeStages)

	streamer := h.mount.Pipeline.(ports.EventStreamer)
	h.serveStream(w, r, domain.ModeStreamEvents, func(ctx context.Context, enc *stream.Encoder) error {
		var events <-chan domain.StageEvent
		err := recoverPipeline(func() error {
			var err error
			events, err = streamer.StreamEvents(ctx, input, cfg)
			if err == nil && events == nil {
				err = errNoStream
			}
			return err
		})
		if err != nil {
			return stream.Fail(enc, domain.ErrPipelineExecution(err))
		}
		return stream.Relay(ctx, enc, events, func(ev domain.StageEvent) (any, bool, error) {
			if ev.Err != nil {
				return nil, false, domain.ErrPipelineExecution(ev.Err)
			}
			if !filter.allows(ev.Stage) {
				return nil, true, nil
			}
			return ev, false, nil
		})
	})
}

// serveStream commits the event stream and runs relay under a per-call
// context that is cancelled as soon as relay returns, so the producer stops
// on success, failure and disconnect alike.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, mode domain.Mode, relay func(context.Context, *stream.Encoder) error) {
	enc, err := stream.NewEncoder(w)
	if err != nil {
		// Nothing was written yet; the pipeline is not called.
		server.WriteError(w, r, domain.NewAPIError(domain.ErrorKindPipelineExecution, "streaming is not supported by this connection").WithCause(err))
		return
	}

	ctx, c := h.begin(r, mode, 0)
	ctx, cancel := context.WithCancel(ctx)
	err = relay(ctx, enc)
	cancel()

	c.finish(ctx, err, enc.Frames())
	if err != nil {
		server.AddError(r.Context(), err)
	}
}

// stageFilter selects stream events by exact stage label.
type stageFilter struct {
	include map[string]bool
	exclude map[string]bool
}

func newStageFilter(include, exclude []string) stageFilter {
	return stageFilter{include: set(include), exclude: set(exclude)}
}

func (f stageFilter) allows(stage string) bool {
	if f.include != nil && !f.include[stage] {
		return false
	}
	return !f.exclude[stage]
}

func set(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
