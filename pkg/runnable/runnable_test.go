package runnable

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

type textInput struct {
	Text string `json:"text"`
}

type answerOutput struct {
	Answer string `json:"answer"`
}

type upperConfig struct {
	Upper bool `json:"upper,omitempty"`
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func reverser() *Runnable[textInput, answerOutput, upperConfig] {
	return &Runnable[textInput, answerOutput, upperConfig]{
		Name: "reverse",
		InvokeFunc: func(ctx context.Context, in textInput, opts Options[upperConfig]) (answerOutput, error) {
			if in.Text == "fail" {
				return answerOutput{}, errors.New("cannot reverse fail")
			}
			out := reverse(in.Text)
			if opts.Config.Upper {
				out = strings.ToUpper(out)
			}
			return answerOutput{Answer: out}, nil
		},
	}
}

func TestShape(t *testing.T) {
	shape := reverser().Shape()
	if shape.Input != reflect.TypeOf(textInput{}) || shape.Output != reflect.TypeOf(answerOutput{}) {
		t.Errorf("shape = %+v", shape)
	}
	if shape.Config != reflect.TypeOf(upperConfig{}) {
		t.Errorf("config = %v, want upperConfig", shape.Config)
	}

	noCfg := &Runnable[textInput, answerOutput, NoConfig]{}
	if noCfg.Shape().Config != nil {
		t.Errorf("NoConfig shape config = %v, want nil", noCfg.Shape().Config)
	}
}

func TestModes(t *testing.T) {
	tests := []struct {
		name string
		p    ports.Pipeline
		want []domain.Mode
	}{
		{name: "zero value", p: &Runnable[textInput, answerOutput, NoConfig]{}, want: nil},
		{name: "invoke derives all", p: reverser(), want: domain.AllModes},
		{
			name: "stream only",
			p: &Runnable[textInput, answerOutput, NoConfig]{
				StreamFunc: func(context.Context, textInput, Options[NoConfig], func(any) error) error { return nil },
			},
			want: []domain.Mode{domain.ModeStream, domain.ModeStreamEvents},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ports.Modes(tt.p); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Modes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	r := reverser()

	out, err := r.Invoke(context.Background(), textInput{Text: "cat"}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if out.(answerOutput).Answer != "tac" {
		t.Errorf("output = %+v", out)
	}

	out, err = r.Invoke(context.Background(), &textInput{Text: "cat"}, domain.RunConfig{Configurable: upperConfig{Upper: true}})
	if err != nil {
		t.Fatal(err)
	}
	if out.(answerOutput).Answer != "TAC" {
		t.Errorf("configured output = %+v", out)
	}

	if _, err := r.Invoke(context.Background(), "cat", domain.RunConfig{}); err == nil {
		t.Error("Invoke(wrong type) error = nil")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	r := &Runnable[textInput, answerOutput, NoConfig]{
		InvokeFunc: func(ctx context.Context, _ textInput, _ Options[NoConfig]) (answerOutput, error) {
			<-ctx.Done()
			return answerOutput{}, ctx.Err()
		},
	}

	_, err := r.Invoke(context.Background(), textInput{}, domain.RunConfig{Timeout: 10 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Invoke() error = %v, want deadline exceeded", err)
	}
}

func TestBatch_DerivedPreservesOrderAndPartialFailure(t *testing.T) {
	r := reverser()
	inputs := []any{textInput{Text: "ab"}, textInput{Text: "fail"}, textInput{Text: "cd"}}

	items, err := r.Batch(context.Background(), inputs, domain.RunConfig{MaxConcurrency: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].Output.(answerOutput).Answer != "ba" || items[2].Output.(answerOutput).Answer != "dc" {
		t.Errorf("outputs = %+v, %+v", items[0], items[2])
	}
	if items[1].Err == nil || items[1].Output != nil {
		t.Errorf("item 1 = %+v, want error only", items[1])
	}
}

func TestBatch_RespectsMaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	r := &Runnable[textInput, answerOutput, NoConfig]{
		InvokeFunc: func(ctx context.Context, in textInput, _ Options[NoConfig]) (answerOutput, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return answerOutput{Answer: in.Text}, nil
		},
	}

	inputs := make([]any, 8)
	for i := range inputs {
		inputs[i] = textInput{Text: "x"}
	}
	if _, err := r.Batch(context.Background(), inputs, domain.RunConfig{MaxConcurrency: 2}); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestBatch_PanicIsElementError(t *testing.T) {
	r := &Runnable[textInput, answerOutput, NoConfig]{
		InvokeFunc: func(ctx context.Context, in textInput, _ Options[NoConfig]) (answerOutput, error) {
			if in.Text == "boom" {
				panic("boom")
			}
			return answerOutput{Answer: in.Text}, nil
		},
	}

	items, err := r.Batch(context.Background(), []any{textInput{Text: "boom"}, textInput{Text: "ok"}}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Err == nil || !strings.Contains(items[0].Err.Error(), "panic: boom") {
		t.Errorf("item 0 error = %v", items[0].Err)
	}
	if items[1].Err != nil {
		t.Errorf("item 1 error = %v", items[1].Err)
	}
}

func TestStream_DerivedFromInvoke(t *testing.T) {
	ch, err := reverser().Stream(context.Background(), textInput{Text: "cat"}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}

	var chunks []domain.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || chunks[0].Delta.(answerOutput).Answer != "tac" {
		t.Errorf("chunks = %+v, want one delta with the invoke output", chunks)
	}
}

func TestStream_NativeErrorEndsSequence(t *testing.T) {
	r := &Runnable[textInput, answerOutput, NoConfig]{
		StreamFunc: func(ctx context.Context, in textInput, _ Options[NoConfig], emit func(any) error) error {
			if err := emit(map[string]any{"answer": "t"}); err != nil {
				return err
			}
			return errors.New("upstream closed")
		},
	}

	ch, err := r.Stream(context.Background(), textInput{}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	var chunks []domain.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[1].Err == nil {
		t.Errorf("chunks = %+v, want delta then error", chunks)
	}
}

func TestStream_StopsOnCancel(t *testing.T) {
	var produced atomic.Int32
	exited := make(chan error, 1)
	r := &Runnable[textInput, answerOutput, NoConfig]{
		StreamFunc: func(ctx context.Context, in textInput, _ Options[NoConfig], emit func(any) error) error {
			for i := 0; ; i++ {
				if err := emit(i); err != nil {
					exited <- err
					return err
				}
				produced.Add(1)
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Stream(ctx, textInput{}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	cancel()

	select {
	case err := <-exited:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("producer exit error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer kept running after cancel")
	}
	if n := produced.Load(); n != 1 {
		t.Errorf("produced = %d, want only the consumed delta", n)
	}
	for range ch {
	}
}

func TestStreamEvents_Derived(t *testing.T) {
	ch, err := reverser().StreamEvents(context.Background(), textInput{Text: "cat"}, domain.RunConfig{RunName: "rev"})
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for ev := range ch {
		if ev.Stage != "rev" {
			t.Errorf("stage = %q, want run name", ev.Stage)
		}
		names = append(names, ev.Event)
	}
	if want := []string{"start", "stream", "end"}; !reflect.DeepEqual(names, want) {
		t.Errorf("events = %v, want %v", names, want)
	}
}

func TestStreamEvents_Native(t *testing.T) {
	r := &Runnable[textInput, answerOutput, NoConfig]{
		StreamEventsFunc: func(ctx context.Context, in textInput, _ Options[NoConfig], emit func(Event) error) error {
			if err := emit(Event{Stage: "retrieve", Name: "end", Data: 3}); err != nil {
				return err
			}
			panic("generator crashed")
		},
	}

	ch, err := r.StreamEvents(context.Background(), textInput{}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	var events []domain.StageEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Stage != "retrieve" || events[0].Data != 3 {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Err == nil || !strings.Contains(events[1].Err.Error(), "generator crashed") {
		t.Errorf("event 1 = %+v, want recovered panic", events[1])
	}
}

func TestStream_TimeoutEndsWithError(t *testing.T) {
	stalled := func(ctx context.Context, _ textInput, _ Options[NoConfig], emit func(any) error) error {
		if err := emit("first"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	swallowed := func(ctx context.Context, _ textInput, _ Options[NoConfig], emit func(any) error) error {
		for i := 0; i < 3; i++ {
			_ = emit(i)
		}
		return nil
	}

	tests := []struct {
		name    string
		produce func(context.Context, textInput, Options[NoConfig], func(any) error) error
		// wait before draining so the deadline fires with the consumer away
		wait time.Duration
	}{
		{name: "producer returns deadline", produce: stalled},
		{name: "producer ignores deadline", produce: swallowed, wait: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runnable[textInput, answerOutput, NoConfig]{StreamFunc: tt.produce}
			for i := 0; i < 50; i++ {
				ch, err := r.Stream(context.Background(), textInput{}, domain.RunConfig{Timeout: time.Millisecond})
				if err != nil {
					t.Fatal(err)
				}
				time.Sleep(tt.wait)

				var last domain.Chunk
				for c := range ch {
					last = c
				}
				if !errors.Is(last.Err, context.DeadlineExceeded) {
					t.Fatalf("run %d: last chunk = %+v, want deadline exceeded", i, last)
				}
			}
		})
	}
}

func TestStreamEvents_TimeoutEndsWithError(t *testing.T) {
	tests := []struct {
		name string
		r    *Runnable[textInput, answerOutput, NoConfig]
	}{
		{
			name: "native",
			r: &Runnable[textInput, answerOutput, NoConfig]{
				StreamEventsFunc: func(ctx context.Context, _ textInput, _ Options[NoConfig], emit func(Event) error) error {
					if err := emit(Event{Stage: "retrieve", Name: "start"}); err != nil {
						return err
					}
					<-ctx.Done()
					return ctx.Err()
				},
			},
		},
		{
			name: "derived from invoke",
			r: &Runnable[textInput, answerOutput, NoConfig]{
				InvokeFunc: func(ctx context.Context, _ textInput, _ Options[NoConfig]) (answerOutput, error) {
					<-ctx.Done()
					return answerOutput{}, ctx.Err()
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				ch, err := tt.r.StreamEvents(context.Background(), textInput{}, domain.RunConfig{Timeout: time.Millisecond})
				if err != nil {
					t.Fatal(err)
				}

				var last domain.StageEvent
				for ev := range ch {
					last = ev
				}
				if last.Event != "error" || !errors.Is(last.Err, context.DeadlineExceeded) {
					t.Fatalf("run %d: last event = %+v, want deadline error", i, last)
				}
			}
		})
	}
}

func TestStream_ClosesAfterCallerCancel(t *testing.T) {
	done := make(chan struct{})
	r := &Runnable[textInput, answerOutput, NoConfig]{
		StreamFunc: func(ctx context.Context, _ textInput, _ Options[NoConfig], emit func(any) error) error {
			defer close(done)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Stream(ctx, textInput{}, domain.RunConfig{})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		for range ch {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after caller cancel")
	}
}
