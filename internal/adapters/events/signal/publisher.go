// Package signal re-emits invocation lifecycle events as capitan signals so
// embedders can hook them in-process.
package signal

import (
	"context"

	"github.com/zoobzio/capitan"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// Signals for lifecycle events.
const (
	InvocationStarted   = capitan.Signal("gateway.invocation.started")
	InvocationCompleted = capitan.Signal("gateway.invocation.completed")
	InvocationFailed    = capitan.Signal("gateway.invocation.failed")
)

// Keys for lifecycle event fields.
var (
	InvocationIDKey = capitan.NewStringKey("gateway.invocation.id")
	RequestIDKey    = capitan.NewStringKey("gateway.request.id")
	MountKey        = capitan.NewStringKey("gateway.mount")
	ModeKey         = capitan.NewStringKey("gateway.mode")

	DurationMsKey = capitan.NewIntKey("gateway.duration.ms")
	FramesKey     = capitan.NewIntKey("gateway.frames")
	BatchSizeKey  = capitan.NewIntKey("gateway.batch.size")

	ErrorKindKey    = capitan.NewStringKey("gateway.error.kind")
	ErrorMessageKey = capitan.NewStringKey("gateway.error.message")
)

// Publisher implements ports.EventPublisher on top of capitan.
type Publisher struct{}

// NewPublisher creates a signal publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish emits the signal matching event.Type. Emission is asynchronous;
// hooks run on capitan's workers.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	fields := []capitan.Field{
		InvocationIDKey.Field(event.InvocationID),
		RequestIDKey.Field(event.RequestID),
		MountKey.Field(event.Mount),
		ModeKey.Field(string(event.Mode)),
	}
	if event.BatchSize > 0 {
		fields = append(fields, BatchSizeKey.Field(event.BatchSize))
	}

	switch event.Type {
	case domain.LifecycleEventStarted:
		capitan.Info(ctx, InvocationStarted, fields...)
	case domain.LifecycleEventCompleted:
		fields = append(fields,
			DurationMsKey.Field(int(event.Duration.Milliseconds())),
			FramesKey.Field(event.Frames),
		)
		capitan.Info(ctx, InvocationCompleted, fields...)
	case domain.LifecycleEventFailed:
		fields = append(fields,
			DurationMsKey.Field(int(event.Duration.Milliseconds())),
			FramesKey.Field(event.Frames),
		)
		if event.Error != nil {
			fields = append(fields,
				ErrorKindKey.Field(string(event.Error.Kind)),
				ErrorMessageKey.Field(event.Error.Message),
			)
		}
		capitan.Error(ctx, InvocationFailed, fields...)
	}
	return nil
}

// Close is a no-op; capitan's workers are process-wide.
func (p *Publisher) Close() error {
	return nil
}
