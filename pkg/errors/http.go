package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTP status code mappings
var errorStatusCodes = map[error]int{
	ErrNotFound:           http.StatusNotFound,
	ErrInvalidInput:       http.StatusBadRequest,
	ErrInternalError:      http.StatusInternalServerError,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrUnavailable:        http.StatusServiceUnavailable,
	ErrAlreadyExists:      http.StatusConflict,
	ErrFailedPrecondition: http.StatusPreconditionFailed,
	ErrCanceled:           http.StatusRequestTimeout,

	// Domain-specific error mappings
	ErrCallNotFound:     http.StatusNotFound,
	ErrCallCompleted:    http.StatusConflict,
	ErrItemNotFound:     http.StatusNotFound,
	ErrPromptNotFound:   http.StatusNotFound,
	ErrInvalidReorder:   http.StatusBadRequest,
	ErrInvalidChecklist: http.StatusBadRequest,
	ErrStaleSnapshot:    http.StatusServiceUnavailable,
	ErrStorageFailure:   http.StatusInternalServerError,
}

// HTTPStatusFromError returns the HTTP status code for an error
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	for sentinel, status := range errorStatusCodes {
		if errors.Is(err, sentinel) {
			return status
		}
	}

	return http.StatusInternalServerError
}

// WriteError writes a standardized error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var statusCode int
	var response map[string]interface{}

	var serr *Error
	if err == nil {
		statusCode = http.StatusInternalServerError
		response = map[string]interface{}{
			"error": "Unknown error",
		}
	} else if errors.As(err, &serr) {
		// Use structured error details
		statusCode = HTTPStatusFromError(serr.original)
		response = serr.AsJSON()
	} else {
		// Simple error
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{
			"error": err.Error(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
