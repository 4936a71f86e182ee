// Package propositional is a small retrieval-then-generation pipeline over
// an in-memory proposition corpus. It runs four pipz stages, retrieve, rank,
// prompt and generate, and serves invoke, stream and stream_events.
package propositional

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zoobzio/pipz"

	"github.com/tjfontaine/pipeline-gateway/internal/tokens"
	"github.com/tjfontaine/pipeline-gateway/pkg/runnable"
)

const (
	// DefaultTopK is the number of sources kept when the caller sets none.
	DefaultTopK = 3
	// MaxTopK caps the caller's top_k.
	MaxTopK = 10

	// Fallback is the answer when no proposition matches the question.
	Fallback = "I don't know."
)

// Stage labels, in execution order.
const (
	StageRetrieve = "retrieve"
	StageRank     = "rank"
	StagePrompt   = "prompt"
	StageGenerate = "generate"
)

// Question is the pipeline input.
type Question struct {
	Question string `json:"question" desc:"The question to answer from the corpus."`
}

// Config is the per-call configurable section.
type Config struct {
	TopK uint `json:"top_k,omitempty" desc:"Number of propositions used as context (default 3, max 10)."`
	// MaxPromptTokens drops the lowest-ranked sources until the prompt
	// fits. Zero means no budget.
	MaxPromptTokens uint `json:"max_prompt_tokens,omitempty" desc:"Token budget for the generated prompt; 0 disables it."`
}

// Source is a proposition used to answer.
type Source struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Answer is the pipeline output.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCorpus replaces DefaultCorpus.
func WithCorpus(corpus []Proposition) Option {
	return func(p *Pipeline) {
		p.corpus = corpus
	}
}

// WithCounter replaces the cl100k_base token counter.
func WithCounter(counter *tokens.Counter) Option {
	return func(p *Pipeline) {
		p.counter = counter
	}
}

// Pipeline answers questions from its corpus. It is safe for concurrent use.
type Pipeline struct {
	corpus  []Proposition
	counter *tokens.Counter
	seq     pipz.Chainable[*run]
}

// run carries one call through the stages.
type run struct {
	question  string
	topK      int
	maxTokens int

	candidates []Source
	sources    []Source
	prompt     string
	tokens     int
	answer     string

	// onStage observes stage boundaries; onToken receives answer fragments.
	onStage func(stage, event string, data any) error
	onToken func(fragment string) error

	err error
}

// New builds the pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{corpus: DefaultCorpus}
	for _, opt := range opts {
		opt(p)
	}
	if p.counter == nil {
		counter, err := tokens.NewCounter(tokens.DefaultEncoding)
		if err != nil {
			// Estimates keep the budget usable without the encoding.
			counter = &tokens.Counter{}
		}
		p.counter = counter
	}
	p.seq = pipz.NewSequence("propositional",
		p.stage(StageRetrieve, p.retrieve),
		p.stage(StageRank, rank),
		p.stage(StagePrompt, p.prompt),
		p.stage(StageGenerate, generate),
	)
	return p
}

// Runnable exposes the pipeline to the gateway.
func (p *Pipeline) Runnable() *runnable.Runnable[Question, Answer, Config] {
	return &runnable.Runnable[Question, Answer, Config]{
		Name: "propositional",
		InvokeFunc: func(ctx context.Context, q Question, opts runnable.Options[Config]) (Answer, error) {
			r, err := p.execute(ctx, newRun(q, opts.Config))
			if err != nil {
				return Answer{}, err
			}
			return r.output(), nil
		},
		StreamFunc: func(ctx context.Context, q Question, opts runnable.Options[Config], emit func(any) error) error {
			r := newRun(q, opts.Config)
			r.onStage = func(stage, event string, _ any) error {
				// Sources are final once the prompt fits its budget.
				if stage == StagePrompt && event == "end" {
					return emit(map[string]any{"sources": r.output().Sources})
				}
				return nil
			}
			r.onToken = func(fragment string) error {
				return emit(map[string]any{"answer": fragment})
			}
			_, err := p.execute(ctx, r)
			return err
		},
		StreamEventsFunc: func(ctx context.Context, q Question, opts runnable.Options[Config], emit func(runnable.Event) error) error {
			r := newRun(q, opts.Config)
			r.onStage = func(stage, event string, data any) error {
				return emit(runnable.Event{Stage: stage, Name: event, Data: data})
			}
			r.onToken = func(fragment string) error {
				return emit(runnable.Event{Stage: StageGenerate, Name: "stream", Data: fragment})
			}
			_, err := p.execute(ctx, r)
			return err
		},
	}
}

func newRun(q Question, cfg Config) *run {
	topK := int(cfg.TopK)
	switch {
	case topK == 0:
		topK = DefaultTopK
	case topK > MaxTopK:
		topK = MaxTopK
	}
	return &run{question: q.Question, topK: topK, maxTokens: int(cfg.MaxPromptTokens)}
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*run, error) {
	if _, err := p.seq.Process(ctx, r); err != nil {
		// r.err keeps the stage error without the sequence's wrapping.
		if r.err != nil {
			return nil, r.err
		}
		return nil, err
	}
	return r, nil
}

// stage wraps fn with start and end notifications.
func (p *Pipeline) stage(name string, fn func(context.Context, *run) error) pipz.Chainable[*run] {
	return pipz.Apply(name, func(ctx context.Context, r *run) (*run, error) {
		fail := func(err error) (*run, error) {
			r.err = fmt.Errorf("%s: %w", name, err)
			return r, r.err
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := r.notify(name, "start", nil); err != nil {
			return fail(err)
		}
		if err := fn(ctx, r); err != nil {
			return fail(err)
		}
		if err := r.notify(name, "end", r.stageOutput(name)); err != nil {
			return fail(err)
		}
		return r, nil
	})
}

func (r *run) notify(stage, event string, data any) error {
	if r.onStage == nil {
		return nil
	}
	return r.onStage(stage, event, data)
}

func (r *run) stageOutput(stage string) any {
	switch stage {
	case StageRetrieve:
		return map[string]any{"candidates": len(r.candidates)}
	case StageRank:
		return map[string]any{"sources": r.sources}
	case StagePrompt:
		return map[string]any{"prompt": r.prompt, "tokens": r.tokens, "sources": len(r.sources)}
	case StageGenerate:
		return r.output()
	}
	return nil
}

func (r *run) output() Answer {
	sources := r.sources
	if sources == nil {
		sources = []Source{}
	}
	return Answer{Answer: r.answer, Sources: sources}
}

func (p *Pipeline) retrieve(_ context.Context, r *run) error {
	question := terms(r.question)
	for _, prop := range p.corpus {
		if score := overlap(question, prop.Text); score > 0 {
			r.candidates = append(r.candidates, Source{ID: prop.ID, Text: prop.Text, Score: score})
		}
	}
	return nil
}

func rank(_ context.Context, r *run) error {
	ranked := make([]Source, len(r.candidates))
	copy(ranked, r.candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	r.sources = ranked
	return nil
}

// prompt renders the prompt, dropping the lowest-ranked sources while it
// exceeds the token budget. A prompt with no sources is always kept.
func (p *Pipeline) prompt(_ context.Context, r *run) error {
	for {
		r.prompt = renderPrompt(r.question, r.sources)
		r.tokens = p.counter.Count(r.prompt)
		if r.maxTokens == 0 || r.tokens <= r.maxTokens || len(r.sources) == 0 {
			return nil
		}
		r.sources = r.sources[:len(r.sources)-1]
	}
}

func renderPrompt(question string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below.\n\nContext:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s\n", s.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}

// generate answers extractively from the ranked sources, one word-sized
// fragment at a time.
func generate(ctx context.Context, r *run) error {
	answer := Fallback
	if len(r.sources) > 0 {
		texts := make([]string, len(r.sources))
		for i, s := range r.sources {
			texts[i] = s.Text
		}
		answer = strings.Join(texts, " ")
	}

	for _, fragment := range strings.SplitAfter(answer, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.onToken != nil {
			if err := r.onToken(fragment); err != nil {
				return err
			}
		}
		r.answer += fragment
	}
	return nil
}
