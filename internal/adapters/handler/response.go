package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIResponse represents the standard response envelope.
// All JSON API responses use this format.
type APIResponse struct {
	Code    int         `json:"code"`               // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"`            // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`               // Actual payload (can be null)
	TraceID string      `json:"trace_id,omitempty"` // request id, see RequestID
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// Common error responses
func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func NotFoundResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

// writeJSON writes resp with its code as the HTTP status and stamps the request id
func writeJSON(w http.ResponseWriter, r *http.Request, resp APIResponse) {
	if resp.TraceID == "" {
		resp.TraceID = RequestIDFrom(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err, "path", r.URL.Path)
	}
}
