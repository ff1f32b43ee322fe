package ptah

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSON writes obj with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, obj any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(obj); err != nil {
		logger.WarnKV(ctx, "Failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Server side failures get a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorKV(ctx, "Request failed", "error", err)

		message = http.StatusText(status)
	} else {
		logger.WarnKV(ctx, "Request rejected", "status", status, "error", err)
	}

	writeJSON(ctx, w, status, &ErrorResponse{Message: message, Code: status})
}
