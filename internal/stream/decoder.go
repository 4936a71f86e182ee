package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// SequenceError reports a missing, repeated or out-of-order frame.
type SequenceError struct {
	Want uint64
	Got  uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("frame sequence gap: want seq %d, got %d", e.Want, e.Got)
}

// Decoder reads frames written by Encoder.
type Decoder struct {
	scanner *bufio.Scanner
	next    uint64
	done    bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for potentially large frames
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame. It returns io.EOF after the terminal frame
// and io.ErrUnexpectedEOF if the stream ends without one.
func (d *Decoder) Next() (*domain.Frame, error) {
	if d.done {
		return nil, io.EOF
	}

	var (
		data  bytes.Buffer
		event string
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			return d.dispatch(event, data.Bytes())
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		case "id", "retry", "":
			// id mirrors seq; empty field names are comments
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}
	if data.Len() > 0 {
		return d.dispatch(event, data.Bytes())
	}
	return nil, io.ErrUnexpectedEOF
}

func (d *Decoder) dispatch(event string, data []byte) (*domain.Frame, error) {
	var frame domain.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if event != "" && domain.FrameKind(event) != frame.Kind {
		return nil, fmt.Errorf("frame %d: event %q does not match kind %q", frame.Seq, event, frame.Kind)
	}
	if frame.Seq != d.next {
		return nil, &SequenceError{Want: d.next, Got: frame.Seq}
	}
	d.next++

	switch frame.Kind {
	case domain.FrameData:
	case domain.FrameEnd, domain.FrameError:
		d.done = true
	default:
		return nil, fmt.Errorf("frame %d: unknown kind %q", frame.Seq, frame.Kind)
	}
	return &frame, nil
}
