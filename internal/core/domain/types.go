package domain

import "time"

// Mode identifies one way of calling a pipeline.
type Mode string

const (
	ModeInvoke       Mode = "invoke"
	ModeBatch        Mode = "batch"
	ModeStream       Mode = "stream"
	ModeStreamEvents Mode = "stream_events"
)

// AllModes lists every invocation mode in route registration order.
var AllModes = []Mode{ModeInvoke, ModeBatch, ModeStream, ModeStreamEvents}

// BatchPolicy selects how element failures inside a batch call are surfaced.
type BatchPolicy string

const (
	// BatchPartial reports per-element errors next to the successful outputs.
	BatchPartial BatchPolicy = "partial"
	// BatchAllOrNothing fails the whole call when any element fails.
	BatchAllOrNothing BatchPolicy = "all_or_nothing"
)

// RunConfig is the per-call configuration passed through to the pipeline.
// The gateway validates it but never acts on it.
type RunConfig struct {
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RunName        string         `json:"run_name,omitempty"`
	MaxConcurrency int            `json:"max_concurrency,omitempty"`
	// Timeout is honored by pipelines that choose to; zero means none.
	Timeout time.Duration `json:"-"`
	// Configurable holds the decoded pipeline-specific configuration, typed
	// as the pipeline's config shape. Nil when the caller sent none.
	Configurable any `json:"-"`
}

// Chunk is one element of a Stream sequence. A chunk with Err set is the
// last one the producer sends.
type Chunk struct {
	Delta any
	Err   error
}

// StageEvent is one element of a StreamEvents sequence. Stage is an opaque
// label chosen by the pipeline.
type StageEvent struct {
	Stage string `json:"stage"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Err   error  `json:"-"`
}

// BatchItem is the result for one element of a batch call.
type BatchItem struct {
	Output any
	Err    error
}

// FrameKind tags a stream frame.
type FrameKind string

const (
	FrameData  FrameKind = "data"
	FrameError FrameKind = "error"
	FrameEnd   FrameKind = "end"
)

// Frame is the wire unit of a streaming response.
type Frame struct {
	Seq     uint64    `json:"seq"`
	Kind    FrameKind `json:"kind"`
	Payload any       `json:"payload,omitempty"`
}

// MountInfo is the display metadata of a registered mount.
type MountInfo struct {
	Path        string      `json:"path"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Modes       []Mode      `json:"modes"`
	BatchPolicy BatchPolicy `json:"batch_policy,omitempty"`
}
