package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aadegtyarev/go2wb/internal/wb"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeMethodNotAllow     = "method_not_allowed"
	ErrCodeBadGateway         = "bad_gateway"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// sessionErrorStatus maps a wb.Session error onto an HTTP status.
func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, wb.ErrInvalidPath), errors.Is(err, wb.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, wb.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, wb.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeSessionError writes the response for a failed session call. Transport
// details stay in the log; clients get a fixed message.
func writeSessionError(w http.ResponseWriter, err error) {
	switch status := sessionErrorStatus(err); status {
	case http.StatusBadRequest:
		writeError(w, status, ErrCodeValidation, err.Error())
	case http.StatusServiceUnavailable:
		writeServiceUnavailable(w, "session closed")
	case http.StatusBadGateway:
		writeError(w, status, ErrCodeBadGateway, "broker publish failed")
	default:
		writeInternalError(w, "failed to set control")
	}
}
