package server

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error *domain.APIError `json:"error"`
}

// WriteError writes err as a JSON error body. Errors that are not APIErrors
// are reported as server errors without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("internal server error")
	}
	if r != nil {
		AddError(r.Context(), err)
	}
	WriteJSON(w, apiErr.HTTPStatusCode(), ErrorResponse{Error: apiErr})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
