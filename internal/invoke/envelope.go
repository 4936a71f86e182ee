package invoke

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/mount"
	"github.com/tjfontaine/pipeline-gateway/internal/schema"
)

// singleRequest is the body of invoke and stream calls.
type singleRequest struct {
	Input  json.RawMessage `json:"input"`
	Config json.RawMessage `json:"config,omitempty"`
}

// eventsRequest is the body of stream_events calls.
type eventsRequest struct {
	Input         json.RawMessage `json:"input"`
	Config        json.RawMessage `json:"config,omitempty"`
	IncludeStages []string        `json:"include_stages,omitempty"`
	ExcludeStages []string        `json:"exclude_stages,omitempty"`
}

// batchRequest is the body of batch calls.
type batchRequest struct {
	Inputs []json.RawMessage `json:"inputs"`
	Config json.RawMessage   `json:"config,omitempty"`
}

// wireConfig mirrors the config envelope descriptor.
type wireConfig struct {
	Tags           []string        `json:"tags,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	RunName        string          `json:"run_name,omitempty"`
	MaxConcurrency int             `json:"max_concurrency,omitempty"`
	TimeoutMS      int64           `json:"timeout_ms,omitempty"`
	Configurable   json.RawMessage `json:"configurable,omitempty"`
}

// decodeEnvelope reads the request body into v. Unknown envelope keys,
// trailing data and oversized bodies are validation errors.
func decodeEnvelope(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.ErrValidation(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		if errors.Is(err, io.EOF) {
			return domain.ErrValidation("request body is empty")
		}
		return domain.ErrValidation(fmt.Sprintf("invalid request body: %v", err)).WithCause(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.ErrValidation(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return domain.ErrValidation("invalid request body: unexpected data after the JSON object")
	}
	return nil
}

// decodeInput validates raw against the mount's input descriptor and
// decodes it into a value of the pipeline's input type.
func decodeInput(m *mount.Mount, raw json.RawMessage, field string) (any, error) {
	if raw == nil {
		return nil, domain.ErrValidation(fmt.Sprintf("%s is required", field))
	}
	if err := m.Schemas.ValidateInput(raw); err != nil {
		return nil, validationError(err, field)
	}
	return decodeInto(m.Schemas.Shape().Input, raw, field)
}

// decodeConfig validates the config envelope and converts it to a
// RunConfig, decoding the configurable section into the pipeline's type.
func decodeConfig(m *mount.Mount, raw json.RawMessage) (domain.RunConfig, error) {
	if isNull(raw) {
		return domain.RunConfig{}, nil
	}
	if err := m.Schemas.ValidateConfig(raw); err != nil {
		return domain.RunConfig{}, validationError(err, "config")
	}

	var wc wireConfig
	if err := json.Unmarshal(raw, &wc); err != nil {
		return domain.RunConfig{}, domain.ErrValidation(fmt.Sprintf("config: %v", err))
	}
	cfg := domain.RunConfig{
		Tags:           wc.Tags,
		Metadata:       wc.Metadata,
		RunName:        wc.RunName,
		MaxConcurrency: wc.MaxConcurrency,
		Timeout:        time.Duration(wc.TimeoutMS) * time.Millisecond,
	}

	if configType := m.Schemas.Shape().Config; configType != nil && !isNull(wc.Configurable) {
		configurable, err := decodeInto(configType, wc.Configurable, "config.configurable")
		if err != nil {
			return domain.RunConfig{}, err
		}
		cfg.Configurable = configurable
	}
	return cfg, nil
}

func decodeInto(t reflect.Type, raw json.RawMessage, field string) (any, error) {
	v := reflect.New(t)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		// Schema-valid documents can still overflow numeric Go types.
		return nil, domain.ErrValidation(fmt.Sprintf("%s: %v", field, err))
	}
	return v.Elem().Interface(), nil
}

func validationError(err error, field string) *domain.APIError {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return domain.ErrValidation(verr.At(field).Error()).WithCause(err)
	}
	return domain.ErrValidation(fmt.Sprintf("%s: %v", field, err)).WithCause(err)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
