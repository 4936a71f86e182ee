package stream

import (
	"context"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// FrameFunc turns one produced item into a data payload. skip drops the
// item without consuming a sequence number; a non-nil err ends the stream
// with an error frame.
type FrameFunc[T any] func(item T) (payload any, skip bool, err error)

// Relay forwards items from src to enc, one frame per item, in order. The
// next item is received only after the previous frame was flushed.
//
// Relay returns nil after writing the end frame, the pipeline error after
// writing the error frame, or a *domain.TransportError when the client is
// gone. In every case the caller must cancel the producer's context.
func Relay[T any](ctx context.Context, enc *Encoder, src <-chan T, frame FrameFunc[T]) error {
	for {
		var (
			item T
			ok   bool
		)
		select {
		case <-ctx.Done():
			return &domain.TransportError{Err: ctx.Err()}
		case item, ok = <-src:
		}

		if !ok {
			return enc.End()
		}

		payload, skip, err := frame(item)
		if err != nil {
			return Fail(enc, err)
		}
		if skip {
			continue
		}

		if err := enc.Data(payload); err != nil {
			if domain.IsTransport(err) {
				return err
			}
			// payload could not be encoded
			return Fail(enc, err)
		}
	}
}

// Fail writes the terminal error frame for err and returns err, or the
// transport error if the frame could not be written.
func Fail(enc *Encoder, err error) error {
	if werr := enc.Error(domain.AsAPIError(err)); werr != nil {
		return werr
	}
	return err
}
