package server

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// ErrorEnvelope is the body of every non-streaming error response.
type ErrorEnvelope struct {
	Error *domain.APIError `json:"error"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an error envelope and records it in the request
// log. Unclassified errors become pipeline_execution errors.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	AddError(r.Context(), err)
	AddLogField(r.Context(), "error_kind", string(apiErr.Kind))
	WriteJSON(w, apiErr.HTTPStatusCode(), ErrorEnvelope{Error: apiErr})
}
