package domain

import (
	"time"
)

// LifecycleEvent represents a high-level lifecycle event for one invocation.
// These events are published to every configured publisher (storage,
// in-process signals, metrics).
type LifecycleEvent struct {
	Type         LifecycleEventType `json:"type"`
	InvocationID string             `json:"invocation_id"`
	RequestID    string             `json:"request_id,omitempty"`
	Mount        string             `json:"mount"`
	Mode         Mode               `json:"mode"`
	Timestamp    time.Time          `json:"timestamp"`
	// Duration is set on completed and failed events.
	Duration time.Duration `json:"duration_ns,omitempty"`
	// Frames counts emitted stream frames; zero for non-streaming modes.
	Frames int `json:"frames,omitempty"`
	// BatchSize is the number of inputs of a batch call.
	BatchSize int `json:"batch_size,omitempty"`
	// Error is set on failed events.
	Error *APIError `json:"error,omitempty"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleEventStarted   LifecycleEventType = "invocation.started"
	LifecycleEventCompleted LifecycleEventType = "invocation.completed"
	LifecycleEventFailed    LifecycleEventType = "invocation.failed"
)

// InvocationStatus is the final state of an invocation.
type InvocationStatus string

const (
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
	// InvocationCancelled marks calls whose client went away mid-stream.
	InvocationCancelled InvocationStatus = "cancelled"
)

// InvocationRecord is the persisted summary of one invocation.
type InvocationRecord struct {
	ID           string           `json:"id" db:"id"`
	RequestID    string           `json:"request_id,omitempty" db:"request_id"`
	Mount        string           `json:"mount" db:"mount"`
	Mode         Mode             `json:"mode" db:"mode"`
	Status       InvocationStatus `json:"status" db:"status"`
	ErrorKind    string           `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string           `json:"error_message,omitempty" db:"error_message"`
	Frames       int              `json:"frames,omitempty" db:"frames"`
	BatchSize    int              `json:"batch_size,omitempty" db:"batch_size"`
	DurationNS   int64            `json:"duration_ns" db:"duration_ns"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// RecordFromEvent builds the terminal record for a completed or failed event.
func RecordFromEvent(event *LifecycleEvent) *InvocationRecord {
	rec := &InvocationRecord{
		ID:         event.InvocationID,
		RequestID:  event.RequestID,
		Mount:      event.Mount,
		Mode:       event.Mode,
		Status:     InvocationCompleted,
		Frames:     event.Frames,
		BatchSize:  event.BatchSize,
		DurationNS: int64(event.Duration),
		CreatedAt:  event.Timestamp.Add(-event.Duration),
	}
	if event.Error != nil {
		rec.Status = InvocationFailed
		if event.Error.Kind == ErrorKindTransport {
			rec.Status = InvocationCancelled
		}
		rec.ErrorKind = string(event.Error.Kind)
		rec.ErrorMessage = event.Error.Message
	}
	return rec
}
