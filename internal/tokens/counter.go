// Package tokens counts prompt tokens so pipelines can budget their context.
package tokens

import (
	"fmt"
	"math"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding is used when a pipeline does not name one.
const DefaultEncoding = tokenizer.Cl100kBase

// Counter counts tokens in text. The zero value estimates from length.
type Counter struct {
	codec tokenizer.Codec
	// CharsPerToken drives the estimate when no codec is loaded (default: 4)
	CharsPerToken float64
}

// NewCounter loads the named tiktoken encoding.
func NewCounter(encoding tokenizer.Encoding) (*Counter, error) {
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Estimated reports whether counts are length-based estimates.
func (c *Counter) Estimated() bool {
	return c.codec == nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c.codec != nil {
		if ids, _, err := c.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return c.estimate(text)
}

func (c *Counter) estimate(text string) int {
	charsPerToken := c.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}
