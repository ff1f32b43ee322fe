package fault

import (
	"errors"
	"net/http"
)

var (
	// ErrConfiguration marks an invalid configuration document: undeclared
	// credentials, unknown source types, malformed values. Fatal before any network call.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolution marks content declared in a profile that the upstream does not have.
	// It is never retried.
	ErrResolution = errors.New("resolution error")
	// ErrTransient marks network failures, timeouts and 5xx/429 answers that
	// survived the retry budget.
	ErrTransient = errors.New("transient error")
	// ErrMerge marks failures while assembling the staged tree.
	ErrMerge = errors.New("merge error")
	// ErrNotFound marks unknown profiles and devices that were never prepared.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks malformed client input such as a bad hardware address.
	ErrInvalidInput = errors.New("invalid input")
)

// HTTPStatus maps an error to the status code returned to API clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrResolution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
