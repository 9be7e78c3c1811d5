package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fleetshift/deployd/internal/domain"
)

// Stable error codes carried in [ErrorBody].
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeNotFound          = "not_found"
	CodeAlreadyExists     = "already_exists"
	CodeConflict          = "conflict"
	CodeResourceExhausted = "resource_exhausted"
	CodeFailed            = "failed"
	CodeInternal          = "internal"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request. DeploymentID is set when the
// failure concerns a deployment that exists, such as a failed create.
type ErrorDetail struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

type mapping struct {
	sentinel error
	code     string
	status   int
}

var mappings = []mapping{
	{domain.ErrInvalidArgument, CodeInvalidArgument, http.StatusBadRequest},
	{domain.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{domain.ErrAlreadyExists, CodeAlreadyExists, http.StatusConflict},
	{domain.ErrConflict, CodeConflict, http.StatusConflict},
	{domain.ErrResourceExhausted, CodeResourceExhausted, http.StatusServiceUnavailable},
	{domain.ErrFailed, CodeFailed, http.StatusInternalServerError},
}

// Classify returns the error code and HTTP status for err.
func Classify(err error) (code string, status int) {
	for _, m := range mappings {
		if errors.Is(err, m.sentinel) {
			return m.code, m.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// Sentinel returns the domain error for code, or nil for unknown codes.
func Sentinel(code string) error {
	for _, m := range mappings {
		if m.code == code {
			return m.sentinel
		}
	}
	return nil
}

// RemoteError is an error reported by the daemon. It unwraps to the
// matching domain sentinel so callers can use errors.Is.
type RemoteError struct {
	Status       int
	Code         string
	Message      string
	DeploymentID string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("deployd: %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return Sentinel(e.Code)
}
