// Package runnable adapts typed Go functions to the gateway's pipeline
// contract.
//
// A Runnable declares its input, output and config types through its type
// parameters and supplies whichever mode functions it implements natively.
// Missing modes are derived: batch from invoke by bounded fan-out, stream
// from invoke as a single delta, and stream events from stream.
//
//	r := &runnable.Runnable[Question, Answer, runnable.NoConfig]{
//	    Name: "echo",
//	    InvokeFunc: func(ctx context.Context, q Question, _ runnable.Options[runnable.NoConfig]) (Answer, error) {
//	        return Answer{Text: q.Text}, nil
//	    },
//	}
package runnable

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

// NoConfig marks a runnable that takes no configurable fields.
type NoConfig struct{}

// Options is the per-call configuration handed to mode functions.
type Options[Cfg any] struct {
	domain.RunConfig
	// Config is the decoded configurable section, or the zero value when
	// the caller sent none.
	Config Cfg
}

// Result is one element of a native batch.
type Result[Out any] struct {
	Output Out
	Err    error
}

// Event is one stage-tagged element of a native event stream.
type Event struct {
	Stage string
	Name  string
	Data  any
}

// Runnable implements the pipeline contract over typed functions. The
// zero value supports no mode.
type Runnable[In, Out, Cfg any] struct {
	// Name labels derived stream events; the call's run_name wins.
	Name string

	InvokeFunc       func(ctx context.Context, in In, opts Options[Cfg]) (Out, error)
	BatchFunc        func(ctx context.Context, ins []In, opts Options[Cfg]) ([]Result[Out], error)
	StreamFunc       func(ctx context.Context, in In, opts Options[Cfg], emit func(delta any) error) error
	StreamEventsFunc func(ctx context.Context, in In, opts Options[Cfg], emit func(Event) error) error
}

var (
	_ ports.Pipeline      = (*Runnable[any, any, NoConfig])(nil)
	_ ports.Invoker       = (*Runnable[any, any, NoConfig])(nil)
	_ ports.BatchInvoker  = (*Runnable[any, any, NoConfig])(nil)
	_ ports.Streamer      = (*Runnable[any, any, NoConfig])(nil)
	_ ports.EventStreamer = (*Runnable[any, any, NoConfig])(nil)
	_ ports.ModeReporter  = (*Runnable[any, any, NoConfig])(nil)
)

// Shape reports the type parameters. NoConfig yields a nil config type.
func (r *Runnable[In, Out, Cfg]) Shape() ports.Shape {
	shape := ports.Shape{
		Input:  reflect.TypeFor[In](),
		Output: reflect.TypeFor[Out](),
	}
	if cfg := reflect.TypeFor[Cfg](); cfg != reflect.TypeFor[NoConfig]() {
		shape.Config = cfg
	}
	return shape
}

// Supports reports the modes this runnable implements natively or can
// derive.
func (r *Runnable[In, Out, Cfg]) Supports(mode domain.Mode) bool {
	switch mode {
	case domain.ModeInvoke:
		return r.InvokeFunc != nil
	case domain.ModeBatch:
		return r.BatchFunc != nil || r.InvokeFunc != nil
	case domain.ModeStream:
		return r.StreamFunc != nil || r.InvokeFunc != nil
	case domain.ModeStreamEvents:
		return r.StreamEventsFunc != nil || r.StreamFunc != nil || r.InvokeFunc != nil
	}
	return false
}

// Invoke runs InvokeFunc once.
func (r *Runnable[In, Out, Cfg]) Invoke(ctx context.Context, input any, cfg domain.RunConfig) (any, error) {
	if r.InvokeFunc == nil {
		return nil, errUnsupported(domain.ModeInvoke)
	}
	in, err := cast[In](input)
	if err != nil {
		return nil, err
	}
	opts, err := options[Cfg](cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()
	return r.InvokeFunc(ctx, in, opts)
}

// Batch runs BatchFunc, or InvokeFunc per element with at most
// max_concurrency calls in flight. Outputs keep input order.
func (r *Runnable[In, Out, Cfg]) Batch(ctx context.Context, inputs []any, cfg domain.RunConfig) ([]domain.BatchItem, error) {
	ins := make([]In, len(inputs))
	for i, input := range inputs {
		in, err := cast[In](input)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		ins[i] = in
	}
	opts, err := options[Cfg](cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	switch {
	case r.BatchFunc != nil:
		results, err := r.BatchFunc(ctx, ins, opts)
		if err != nil {
			return nil, err
		}
		if len(results) != len(ins) {
			return nil, fmt.Errorf("batch returned %d results for %d inputs", len(results), len(ins))
		}
		items := make([]domain.BatchItem, len(results))
		for i, res := range results {
			items[i] = domain.BatchItem{Output: res.Output, Err: res.Err}
		}
		return items, nil
	case r.InvokeFunc != nil:
		return r.fanOut(ctx, ins, opts), nil
	default:
		return nil, errUnsupported(domain.ModeBatch)
	}
}

func (r *Runnable[In, Out, Cfg]) fanOut(ctx context.Context, ins []In, opts Options[Cfg]) []domain.BatchItem {
	items := make([]domain.BatchItem, len(ins))

	// Element failures are recorded per item, never returned to the group,
	// so one failure does not cancel its siblings.
	var g errgroup.Group
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	for i, in := range ins {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					items[i] = domain.BatchItem{Err: panicError(rec)}
				}
			}()
			out, err := r.InvokeFunc(ctx, in, opts)
			if err != nil {
				items[i] = domain.BatchItem{Err: err}
				return nil
			}
			items[i] = domain.BatchItem{Output: out}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Stream runs StreamFunc, or emits InvokeFunc's output as a single delta.
func (r *Runnable[In, Out, Cfg]) Stream(ctx context.Context, input any, cfg domain.RunConfig) (<-chan domain.Chunk, error) {
	produce, err := r.streamProducer(input, cfg)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Chunk)
	go func() {
		defer close(out)
		parent := ctx
		ctx, cancel := withTimeout(parent, cfg)
		defer cancel()

		emit := func(delta any) error {
			select {
			case out <- domain.Chunk{Delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := terminalError(parent, ctx, guard(func() error { return produce(ctx, emit) }))
		if err != nil {
			// The deadline has already fired here; only the caller going
			// away may drop the error.
			select {
			case out <- domain.Chunk{Err: err}:
			case <-parent.Done():
			}
		}
	}()
	return out, nil
}

// StreamEvents runs StreamEventsFunc, or wraps the stream in start, stream
// and end events labelled with the run name.
func (r *Runnable[In, Out, Cfg]) StreamEvents(ctx context.Context, input any, cfg domain.RunConfig) (<-chan domain.StageEvent, error) {
	var produce func(ctx context.Context, emit func(Event) error) error

	if r.StreamEventsFunc != nil {
		in, err := cast[In](input)
		if err != nil {
			return nil, err
		}
		opts, err := options[Cfg](cfg)
		if err != nil {
			return nil, err
		}
		produce = func(ctx context.Context, emit func(Event) error) error {
			return r.StreamEventsFunc(ctx, in, opts, emit)
		}
	} else {
		deltas, err := r.streamProducer(input, cfg)
		if err != nil {
			return nil, err
		}
		stage := r.stageName(cfg)
		produce = func(ctx context.Context, emit func(Event) error) error {
			if err := emit(Event{Stage: stage, Name: "start", Data: input}); err != nil {
				return err
			}
			err := deltas(ctx, func(delta any) error {
				return emit(Event{Stage: stage, Name: "stream", Data: delta})
			})
			if err != nil {
				return err
			}
			return emit(Event{Stage: stage, Name: "end"})
		}
	}

	out := make(chan domain.StageEvent)
	go func() {
		defer close(out)
		parent := ctx
		ctx, cancel := withTimeout(parent, cfg)
		defer cancel()

		emit := func(ev Event) error {
			select {
			case out <- domain.StageEvent{Stage: ev.Stage, Event: ev.Name, Data: ev.Data}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := terminalError(parent, ctx, guard(func() error { return produce(ctx, emit) }))
		if err != nil {
			select {
			case out <- domain.StageEvent{Stage: r.stageName(cfg), Event: "error", Err: err}:
			case <-parent.Done():
			}
		}
	}()
	return out, nil
}

// streamProducer resolves the delta source before any goroutine starts so
// bad input fails synchronously.
func (r *Runnable[In, Out, Cfg]) streamProducer(input any, cfg domain.RunConfig) (func(context.Context, func(any) error) error, error) {
	in, err := cast[In](input)
	if err != nil {
		return nil, err
	}
	opts, err := options[Cfg](cfg)
	if err != nil {
		return nil, err
	}

	switch {
	case r.StreamFunc != nil:
		return func(ctx context.Context, emit func(any) error) error {
			return r.StreamFunc(ctx, in, opts, emit)
		}, nil
	case r.InvokeFunc != nil:
		return func(ctx context.Context, emit func(any) error) error {
			out, err := r.InvokeFunc(ctx, in, opts)
			if err != nil {
				return err
			}
			return emit(out)
		}, nil
	default:
		return nil, errUnsupported(domain.ModeStream)
	}
}

func (r *Runnable[In, Out, Cfg]) stageName(cfg domain.RunConfig) string {
	switch {
	case cfg.RunName != "":
		return cfg.RunName
	case r.Name != "":
		return r.Name
	default:
		return "runnable"
	}
}

func cast[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	if p, ok := v.(*T); ok && p != nil {
		return *p, nil
	}
	var zero T
	return zero, fmt.Errorf("input is %T, want %T", v, zero)
}

func options[Cfg any](cfg domain.RunConfig) (Options[Cfg], error) {
	opts := Options[Cfg]{RunConfig: cfg}
	if cfg.Configurable == nil {
		return opts, nil
	}
	c, err := cast[Cfg](cfg.Configurable)
	if err != nil {
		return opts, fmt.Errorf("configurable: %w", err)
	}
	opts.Config = c
	return opts, nil
}

// terminalError is the error a producer's sequence ends with. A producer
// that returned nil after its deadline passed may have lost deltas to a
// failed emit, so the deadline is reported instead of a clean end.
func terminalError(parent, ctx context.Context, err error) error {
	if err == nil && ctx.Err() != nil && parent.Err() == nil {
		return ctx.Err()
	}
	return err
}

func withTimeout(ctx context.Context, cfg domain.RunConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// guard runs fn and turns a panic into an error; producer goroutines are
// outside the gateway's dispatch recovery.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return fn()
}

func panicError(rec any) error {
	return fmt.Errorf("panic: %v", rec)
}

func errUnsupported(mode domain.Mode) error {
	return fmt.Errorf("runnable does not support %s", mode)
}
