// Package httputil provides JSON request and response helpers for the HTTP layer.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	"github.com/R3E-Network/access_layer/internal/logging"
)

// MaxRequestBody bounds JSON request bodies.
const MaxRequestBody = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes data as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an ErrorResponse, tagging it with the request trace id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := ErrorResponse{Code: code, Message: message, Details: details}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError maps err to an HTTP reply. Errors that are not service errors
// are reported as INTERNAL without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := serviceerrors.GetServiceError(err)
	if se == nil {
		se = serviceerrors.Internal("internal error", err)
	}
	WriteErrorResponse(w, r, serviceerrors.HTTPStatus(se), string(se.Code), se.Message, se.Details)
}

// Unauthorized writes a 401 reply.
func Unauthorized(w http.ResponseWriter, message string) {
	se := serviceerrors.Unauthorized(message)
	WriteErrorResponse(w, nil, se.HTTPStatus, string(se.Code), se.Message, nil)
}

// DecodeJSON strictly decodes the request body into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return stderrors.New("empty request body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return stderrors.New("invalid JSON body: trailing data")
	}
	return nil
}
