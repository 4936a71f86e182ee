package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

// maxViolations caps how many schema violations one error message lists.
const maxViolations = 5

// Set holds the descriptors of one mount, derived and compiled once.
// All methods are safe for concurrent use.
type Set struct {
	Input  *Descriptor
	Output *Descriptor
	// Config describes the whole per-call config envelope; the pipeline's
	// own config shape sits under "configurable".
	Config *Descriptor

	shape  ports.Shape
	input  *gojsonschema.Schema
	output *gojsonschema.Schema
	config *gojsonschema.Schema
}

// NewSet derives and compiles the descriptors for shape.
func NewSet(shape ports.Shape) (*Set, error) {
	if shape.Input == nil || shape.Output == nil {
		return nil, fmt.Errorf("schema: shape must declare input and output types")
	}

	input, err := Derive(shape.Input)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	output, err := Derive(shape.Output)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	config, err := envelope(shape.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	s := &Set{Input: input, Output: output, Config: config, shape: shape}
	if s.input, err = compile(input); err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	if s.output, err = compile(output); err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	if s.config, err = compile(config); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return s, nil
}

// Shape returns the Go types the set was derived from.
func (s *Set) Shape() ports.Shape {
	return s.shape
}

// ValidateInput checks raw JSON against the input descriptor.
func (s *Set) ValidateInput(raw []byte) error {
	return validate(s.input, gojsonschema.NewBytesLoader(raw))
}

// ValidateConfig checks raw JSON against the config envelope descriptor.
func (s *Set) ValidateConfig(raw []byte) error {
	return validate(s.config, gojsonschema.NewBytesLoader(raw))
}

// ValidateOutput checks a pipeline result against the output descriptor.
func (s *Set) ValidateOutput(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return validate(s.output, gojsonschema.NewBytesLoader(raw))
}

// envelope wraps the pipeline config shape in the per-call config object.
func envelope(config reflect.Type) (*Descriptor, error) {
	configurable := &Descriptor{
		Type:                 "object",
		AdditionalProperties: false,
		Description:          "This pipeline takes no configurable fields.",
	}
	if config != nil {
		derived, err := Derive(config)
		if err != nil {
			return nil, err
		}
		derived.Schema = ""
		configurable = derived
	}

	zero := 0.0
	one := 1.0
	return &Descriptor{
		Schema:     DraftURI,
		Title:      "RunConfig",
		Type:       "object",
		Properties: map[string]*Descriptor{
			"tags":            {Type: "array", Items: &Descriptor{Type: "string"}},
			"metadata":        {Type: "object", AdditionalProperties: true},
			"run_name":        {Type: "string"},
			"max_concurrency": {Type: "integer", Minimum: &one},
			"timeout_ms":      {Type: "integer", Minimum: &zero, Description: "Deadline for the pipeline call in milliseconds; 0 means none."},
			"configurable":    configurable,
		},
		AdditionalProperties: false,
	}, nil
}

func compile(desc *Descriptor) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(desc))
}

func validate(compiled *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	result, err := compiled.Validate(doc)
	if err != nil {
		return &ValidationError{Violations: []Violation{{Description: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" {
			field = ""
		}
		verr.Violations = append(verr.Violations, Violation{Field: field, Description: desc.Description()})
	}
	return verr
}

// Violation is one mismatch between a document and a descriptor.
type Violation struct {
	// Field is the dotted path inside the document; empty for the root.
	Field       string
	Description string
}

// ValidationError lists the violations found in one document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	for i, v := range e.Violations {
		if i == maxViolations {
			fmt.Fprintf(&b, "; and %d more", len(e.Violations)-maxViolations)
			break
		}
		if i > 0 {
			b.WriteString("; ")
		}
		if v.Field != "" {
			b.WriteString(v.Field)
			b.WriteString(": ")
		}
		b.WriteString(v.Description)
	}
	return b.String()
}

// At returns a copy whose field paths are rooted at prefix, e.g. "input"
// or "inputs.1".
func (e *ValidationError) At(prefix string) *ValidationError {
	out := &ValidationError{Violations: make([]Violation, len(e.Violations))}
	for i, v := range e.Violations {
		if v.Field == "" {
			v.Field = prefix
		} else {
			v.Field = prefix + "." + v.Field
		}
		out.Violations[i] = v
	}
	return out
}
