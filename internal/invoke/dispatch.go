package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/schema"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
)

// invokeResponse is the body of a successful invoke call.
type invokeResponse struct {
	Output any `json:"output"`
}

// batchResponse is the body of a successful batch call. Errors is present
// only when an element failed under the partial policy; it is aligned with
// Outputs and holds null at successful positions.
type batchResponse struct {
	Outputs []any              `json:"outputs"`
	Errors  []*domain.APIError `json:"errors,omitempty"`
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if err := decodeEnvelope(w, r, h.maxBytes, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}
	input, err := decodeInput(h.mount, req.Input, "input")
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	cfg, err := decodeConfig(h.mount, req.Config)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	ctx, c := h.begin(r, domain.ModeInvoke, 0)
	output, err := h.invoke(ctx, input, cfg)
	c.finish(ctx, err, 0)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, invokeResponse{Output: output})
}

func (h *Handler) invoke(ctx context.Context, input any, cfg domain.RunConfig) (output any, err error) {
	invoker := h.mount.Pipeline.(ports.Invoker)
	err = recoverPipeline(func() error {
		output, err = invoker.Invoke(ctx, input, cfg)
		return err
	})
	if err != nil {
		return nil, domain.ErrPipelineExecution(err)
	}
	if err := h.checkOutput(output); err != nil {
		return nil, err
	}
	return output, nil
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeEnvelope(w, r, h.maxBytes, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}
	if req.Inputs == nil {
		server.WriteError(w, r, domain.ErrValidation("inputs is required"))
		return
	}

	inputs, err := h.decodeInputs(req.Inputs)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	cfg, err := decodeConfig(h.mount, req.Config)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	ctx, c := h.begin(r, domain.ModeBatch, len(inputs))
	resp, err := h.batch(ctx, inputs, cfg)
	c.finish(ctx, err, 0)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

// decodeInputs validates every element before any is dispatched and
// reports the violations of all failing elements together.
func (h *Handler) decodeInputs(raws []json.RawMessage) ([]any, error) {
	inputs := make([]any, len(raws))
	var violations []schema.Violation
	for i, raw := range raws {
		field := fmt.Sprintf("inputs.%d", i)
		if err := h.mount.Schemas.ValidateInput(raw); err != nil {
			var verr *schema.ValidationError
			if !errors.As(err, &verr) {
				return nil, validationError(err, field)
			}
			violations = append(violations, verr.At(field).Violations...)
			continue
		}
		input, err := decodeInto(h.mount.Schemas.Shape().Input, raw, field)
		if err != nil {
			return nil, err
		}
		inputs[i] = input
	}
	if len(violations) > 0 {
		verr := &schema.ValidationError{Violations: violations}
		return nil, domain.ErrValidation(verr.Error()).WithCause(verr)
	}
	return inputs, nil
}

func (h *Handler) batch(ctx context.Context, inputs []any, cfg domain.RunConfig) (*batchResponse, error) {
	invoker := h.mount.Pipeline.(ports.BatchInvoker)

	var items []domain.BatchItem
	err := recoverPipeline(func() error {
		var err error
		items, err = invoker.Batch(ctx, inputs, cfg)
		return err
	})
	if err != nil {
		return nil, domain.ErrPipelineExecution(err)
	}
	if len(items) != len(inputs) {
		return nil, domain.ErrPipelineExecution(
			fmt.Errorf("pipeline returned %d outputs for %d inputs", len(items), len(inputs)))
	}

	resp := &batchResponse{Outputs: make([]any, len(items))}
	errs := make([]*domain.APIError, len(items))
	failed := false
	for i, item := range items {
		itemErr := item.Err
		if itemErr == nil {
			itemErr = h.checkOutput(item.Output)
		}
		if itemErr == nil {
			resp.Outputs[i] = item.Output
			continue
		}

		if h.mount.BatchPolicy == domain.BatchAllOrNothing {
			return nil, domain.ErrPipelineExecution(fmt.Errorf("inputs.%d: %w", i, itemErr))
		}
		errs[i] = elementError(itemErr)
		failed = true
	}
	if failed {
		resp.Errors = errs
	}
	return resp, nil
}

// elementError classifies a per-element failure. Output mismatches are
// already pipeline_execution errors; anything else is wrapped as one.
func elementError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == domain.ErrorKindPipelineExecution {
		return apiErr
	}
	return domain.ErrPipelineExecution(err)
}

// checkOutput rejects outputs that do not conform to the output schema,
// so a caller never receives a body matching neither the output nor the
// error shape.
func (h *Handler) checkOutput(output any) error {
	if err := h.mount.Schemas.ValidateOutput(output); err != nil {
		h.logger.Error("pipeline output does not match schema", "error", err.Error())
		return domain.NewAPIError(domain.ErrorKindPipelineExecution, "output does not match schema").WithCause(err)
	}
	return nil
}

// recoverPipeline runs fn and turns a panic into an error.
func recoverPipeline(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
