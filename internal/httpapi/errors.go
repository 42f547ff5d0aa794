package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"wishmaster/internal/backend"
	"wishmaster/internal/engine"
	"wishmaster/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.code }

func badRequest(format string, args ...any) error {
	return &statusError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// ErrModelNotFound reports a load request naming a model no scanned directory holds.
func ErrModelNotFound(ref string) error {
	return &statusError{code: http.StatusNotFound, msg: fmt.Sprintf("model not found: %s", ref)}
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case engine.IsNotLoaded(err):
		return http.StatusConflict
	case backend.IsUnavailable(err), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case engine.IsModelLoadFailure(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeServiceError(w http.ResponseWriter, err error) int {
	code := statusFor(err)
	writeJSONError(w, code, err.Error())
	return code
}
