// Package errors defines the HTTP error envelope and the stable error
// codes the API emits.
//
// Every non-2xx response carries the same JSON shape:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "details": {...}}}
//
// Codes are part of the API contract; clients switch on them, not on
// messages.
package errors

import (
	"encoding/json"
	"net/http"
)

// Stable error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeJobNotComplete     = "JOB_NOT_COMPLETE"
	CodeValidation         = "VALIDATION"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	// CodeUpstreamUnavailable covers failures of the call platform or the
	// analysis API reached synchronously from a request.
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// HTTPErrorResponse is the wire shape of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the envelope payload.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Write emits the envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message string) {
	WriteDetailed(w, status, HTTPError{Code: code, Message: message})
}

// WriteDetailed emits a fully populated envelope.
func WriteDetailed(w http.ResponseWriter, status int, e HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: e})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeJobNotComplete:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
