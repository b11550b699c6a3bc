// Package apierror defines the client-facing error body shape shared by
// every HTTP handler.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Code is a machine-readable error classification.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeInvalidInput     Code = "invalid_input"
	CodeModelNotFound    Code = "model_not_found"
	CodeGenerationFailed Code = "generation_failed"
	CodeInternal         Code = "internal_error"
)

// Body is the JSON shape written to the client on error.
type Body struct {
	Error Detail `json:"error"`
}

// Detail carries the human-readable message and machine-readable code.
type Detail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    Code   `json:"code"`
}

// Write sets the response Content-Type, status, and writes the apierror
// body for code/message to w.
func Write(w http.ResponseWriter, status int, code Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(Body{
		Error: Detail{
			Message: message,
			Type:    string(code),
			Code:    code,
		},
	})
}

// StatusForCode maps a Code to its conventional HTTP status, used by
// handlers that only have a Code in hand and need the status to match.
func StatusForCode(code Code) int {
	switch code {
	case CodeNotFound, CodeModelNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeGenerationFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
