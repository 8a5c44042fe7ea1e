package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// Error codes not covered by types.Classify
const (
	CodeNotFound       = "not_found"
	CodeSyncInProgress = "sync_in_progress"
	CodeBadRequest     = "bad_request"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response wrapping data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   CodeBadRequest,
		Message: message,
		Details: details,
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   CodeNotFound,
		Message: message,
	})
}

// statusFor maps a service error to an HTTP status and error code
func statusFor(err error) (int, string) {
	switch {
	case IsValidationError(err):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, syncer.ErrSyncInProgress):
		return http.StatusConflict, CodeSyncInProgress
	}

	code := types.Classify(err)
	switch code {
	case types.CodeInvalidRequest:
		return http.StatusBadRequest, code
	case types.CodeUpstreamUnavailable:
		return http.StatusBadGateway, code
	case types.CodeEmbeddingUnavailable:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, code
	}
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status, code := statusFor(err)
	resp := ErrorResponse{Error: code, Message: err.Error()}
	if fields := GetValidationFields(err); fields != nil {
		resp.Details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			resp.Details[k] = v
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	if werr := WriteJSON(w, status, resp); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}
