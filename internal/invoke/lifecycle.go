package invoke

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
)

const tracerName = "github.com/tjfontaine/pipeline-gateway/internal/invoke"

// call tracks one dispatched invocation from the single pipeline call to
// its outcome. It starts a span and publishes the lifecycle events.
type call struct {
	h         *Handler
	id        string
	requestID string
	mode      domain.Mode
	start     time.Time
	span      trace.Span
	batchSize int
}

func (h *Handler) begin(r *http.Request, mode domain.Mode, batchSize int) (context.Context, *call) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "pipeline."+string(mode),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("gateway.mount", h.mount.Path),
			attribute.String("gateway.mode", string(mode)),
		),
	)
	if batchSize > 0 {
		span.SetAttributes(attribute.Int("gateway.batch_size", batchSize))
	}

	c := &call{
		h:         h,
		id:        uuid.New().String(),
		requestID: server.GetRequestID(r.Context()),
		mode:      mode,
		start:     time.Now(),
		span:      span,
		batchSize: batchSize,
	}

	server.AddLogField(r.Context(), "mount", h.mount.Path)
	server.AddLogField(r.Context(), "mode", string(mode))
	server.AddLogField(r.Context(), "invocation_id", c.id)

	c.publish(ctx, &domain.LifecycleEvent{
		Type:      domain.LifecycleEventStarted,
		Timestamp: c.start,
	})
	return ctx, c
}

// finish records the outcome. err is the error reported to the caller, if
// any; frames is the number of stream frames written.
func (c *call) finish(ctx context.Context, err error, frames int) {
	defer c.span.End()

	event := &domain.LifecycleEvent{
		Type:      domain.LifecycleEventCompleted,
		Timestamp: time.Now(),
		Duration:  time.Since(c.start),
		Frames:    frames,
	}
	if frames > 0 {
		c.span.SetAttributes(attribute.Int("gateway.frames", frames))
	}

	if err != nil {
		apiErr := domain.AsAPIError(err)
		event.Type = domain.LifecycleEventFailed
		event.Error = apiErr
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, string(apiErr.Kind))
		if domain.IsTransport(err) {
			c.h.logger.Info("client went away mid-stream",
				slog.String("invocation_id", c.id),
				slog.String("mode", string(c.mode)),
				slog.String("error", err.Error()),
			)
		}
	} else {
		c.span.SetStatus(codes.Ok, "")
	}

	c.publish(ctx, event)
}

func (c *call) publish(ctx context.Context, event *domain.LifecycleEvent) {
	if c.h.publisher == nil {
		return
	}
	event.InvocationID = c.id
	event.RequestID = c.requestID
	event.Mount = c.h.mount.Path
	event.Mode = c.mode
	event.BatchSize = c.batchSize

	// Publishing outlives a cancelled request; it never affects the response.
	if err := c.h.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		c.h.logger.Warn("failed to publish lifecycle event",
			slog.String("invocation_id", c.id),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}
