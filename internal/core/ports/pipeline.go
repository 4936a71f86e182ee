// Package ports defines the core interfaces for the gateway.
// This file contains the pipeline contract: a base interface describing the
// pipeline's shape plus one optional facet per invocation mode.
package ports

import (
	"context"
	"reflect"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// Shape describes the Go types a pipeline consumes and produces. The schema
// registry derives the mount's descriptors from it.
type Shape struct {
	Input  reflect.Type
	Output reflect.Type
	// Config is the pipeline-specific per-call configuration type.
	// Nil when the pipeline takes none.
	Config reflect.Type
}

// Pipeline is the unit a mount serves. On its own it supports no mode; the
// gateway registers an endpoint for each facet below that it implements.
type Pipeline interface {
	Shape() Shape
}

// Invoker runs the pipeline once. input is a value of Shape().Input.
type Invoker interface {
	Invoke(ctx context.Context, input any, cfg domain.RunConfig) (any, error)
}

// BatchInvoker runs the pipeline over many inputs in one call. The returned
// slice must have one item per input, in input order. A non-nil error fails
// the whole batch.
type BatchInvoker interface {
	Batch(ctx context.Context, inputs []any, cfg domain.RunConfig) ([]domain.BatchItem, error)
}

// Streamer produces output deltas. The producer owns the channel, closes it
// when finished, and must stop sending once ctx is done.
type Streamer interface {
	Stream(ctx context.Context, input any, cfg domain.RunConfig) (<-chan domain.Chunk, error)
}

// EventStreamer is like Streamer but every element carries the label of the
// stage that produced it.
type EventStreamer interface {
	StreamEvents(ctx context.Context, input any, cfg domain.RunConfig) (<-chan domain.StageEvent, error)
}

// ModeReporter lets a pipeline that implements a facet opt out of it, for
// adapters whose facets depend on how they were configured.
type ModeReporter interface {
	Supports(mode domain.Mode) bool
}

// Modes returns the invocation modes p supports, in route order.
func Modes(p Pipeline) []domain.Mode {
	var modes []domain.Mode
	for _, mode := range domain.AllModes {
		if supports(p, mode) {
			modes = append(modes, mode)
		}
	}
	return modes
}

func supports(p Pipeline, mode domain.Mode) bool {
	var ok bool
	switch mode {
	case domain.ModeInvoke:
		_, ok = p.(Invoker)
	case domain.ModeBatch:
		_, ok = p.(BatchInvoker)
	case domain.ModeStream:
		_, ok = p.(Streamer)
	case domain.ModeStreamEvents:
		_, ok = p.(EventStreamer)
	}
	if !ok {
		return false
	}
	if r, isReporter := p.(ModeReporter); isReporter {
		return r.Supports(mode)
	}
	return true
}
