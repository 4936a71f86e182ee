package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/stream"
)

// Frame is one decoded stream frame.
type Frame = domain.Frame

// SequenceError reports a gap in the frame sequence.
type SequenceError = stream.SequenceError

// Stream reads the frames of a stream or stream_events call.
//
//	for s.Next() {
//	    f := s.Frame()
//	    ...
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	body  io.ReadCloser
	dec   *stream.Decoder
	frame *Frame
	err   error
	once  sync.Once
}

func (c *Client) openStream(ctx context.Context, path string, body any) (*Stream, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return &Stream{body: resp.Body, dec: stream.NewDecoder(resp.Body)}, nil
}

// Next advances to the next data frame. It returns false after the
// terminal frame or on failure; Err tells them apart.
func (s *Stream) Next() bool {
	if s.err != nil || s.dec == nil {
		return false
	}
	frame, err := s.dec.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		s.dec = nil
		return false
	}

	switch frame.Kind {
	case domain.FrameData:
		s.frame = frame
		return true
	case domain.FrameError:
		s.err = frameError(frame)
	}
	s.frame = nil
	s.dec = nil
	return false
}

// Frame returns the current data frame.
func (s *Stream) Frame() *Frame {
	return s.frame
}

// Err returns the error that ended the stream: an *APIError for an error
// frame, a *SequenceError for a gap, or io.ErrUnexpectedEOF when the
// connection ended without a terminal frame.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the connection. Closing before the terminal frame
// cancels the call on the gateway.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
	})
	return err
}

// Collect reads the rest of the stream and merges its data payloads into
// the accumulated output, then closes the stream.
func (s *Stream) Collect() (any, error) {
	defer s.Close()

	var deltas []any
	for s.Next() {
		deltas = append(deltas, s.frame.Payload)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return stream.MergeAll(deltas), nil
}

// frameError decodes an error frame's payload into an *APIError.
func frameError(frame *Frame) error {
	payload, _ := frame.Payload.(map[string]any)
	kind, _ := payload["kind"].(string)
	msg, _ := payload["message"].(string)
	if kind == "" {
		kind = string(domain.ErrorKindPipelineExecution)
	}
	return domain.NewAPIError(domain.ErrorKind(kind), msg)
}
