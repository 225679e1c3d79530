// Package httpx holds the JSON request/response conventions shared by the
// gate service and its client SDK: a typed error envelope, the gate's error
// codes, and strict request decoding.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Error codes carried in the envelope. Clients branch on these, never on the
// message text.
const (
	CodeBadJSON           = "BAD_JSON"
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidOrderState = "INVALID_ORDER_STATE"
	CodeInternal          = "INTERNAL"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope every non-2xx gate response carries. The
// request id is also echoed in the X-Request-Id header so a failing call can
// be matched to server logs.
type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body strictly: unknown fields are rejected so
// client typos surface as 400s instead of silently dropped options.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	id := NewRequestID()
	w.Header().Set("X-Request-Id", id)
	WriteJSON(w, status, ErrorResponse{
		RequestID: id,
		Error:     ErrorBody{Code: code, Message: message, Details: details},
	})
}
