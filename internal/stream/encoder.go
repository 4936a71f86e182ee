// Package stream frames streaming pipeline results as server-sent events
// and parses them back.
//
// Every frame carries a JSON document {"seq","kind","payload"}; seq starts
// at 0 and grows by one per frame. A stream ends with exactly one end frame
// on success or exactly one error frame on failure.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// ErrClosed is returned when writing after the terminal frame.
var ErrClosed = errors.New("stream already terminated")

// Encoder writes frames to an HTTP response, flushing after each one.
// It is not safe for concurrent use; one relay goroutine owns it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	seq     uint64
	closed  bool
}

// NewEncoder prepares w for an event stream and commits the 200 status.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by %T", w)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Encoder{w: w, flusher: flusher}, nil
}

// Frames returns how many frames were written.
func (e *Encoder) Frames() int {
	return int(e.seq)
}

// Data writes one data frame. Payload encoding failures are returned as-is;
// write failures are returned as *domain.TransportError.
func (e *Encoder) Data(payload any) error {
	return e.write(domain.FrameData, payload)
}

// Error writes the terminal error frame.
func (e *Encoder) Error(apiErr *domain.APIError) error {
	err := e.write(domain.FrameError, apiErr)
	e.closed = true
	return err
}

// End writes the terminal end frame.
func (e *Encoder) End() error {
	err := e.write(domain.FrameEnd, nil)
	e.closed = true
	return err
}

func (e *Encoder) write(kind domain.FrameKind, payload any) error {
	if e.closed {
		return ErrClosed
	}

	frame := domain.Frame{Seq: e.seq, Kind: kind, Payload: payload}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}

	if _, err := fmt.Fprintf(e.w, "id: %d\nevent: %s\ndata: %s\n\n", frame.Seq, kind, data); err != nil {
		e.closed = true
		return &domain.TransportError{Err: err}
	}
	e.flusher.Flush()
	e.seq++
	return nil
}
