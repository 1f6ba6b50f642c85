// Package errors provides typed service errors shared by the access layer.
//
// Every failure that crosses a package boundary is a *ServiceError carrying a
// stable Code. Callers branch with errors.Is against the exported sentinels
// (which match by code) or inspect the error with GetServiceError.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of a service error.
type Code string

const (
	CodeProtectedAddress  Code = "PROTECTED_ADDRESS"
	CodeUnknownFeature    Code = "UNKNOWN_FEATURE"
	CodeInvalidAddress    Code = "INVALID_ADDRESS"
	CodeNotAuthorized     Code = "NOT_AUTHORIZED"
	CodeNotAccountOwner   Code = "NOT_ACCOUNT_OWNER"
	CodeAccountNotFound   Code = "ACCOUNT_NOT_FOUND"
	CodeInvalidCommand    Code = "INVALID_COMMAND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInvalidCatalog    Code = "INVALID_CATALOG"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL"
)

// ServiceError is the typed error returned by every access-layer operation.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is. They are never returned directly.
var (
	ErrProtectedAddress  = &ServiceError{Code: CodeProtectedAddress}
	ErrUnknownFeature    = &ServiceError{Code: CodeUnknownFeature}
	ErrInvalidAddress    = &ServiceError{Code: CodeInvalidAddress}
	ErrNotAuthorized     = &ServiceError{Code: CodeNotAuthorized}
	ErrAccountNotFound   = &ServiceError{Code: CodeAccountNotFound}
	ErrInvalidCommand    = &ServiceError{Code: CodeInvalidCommand}
	ErrInvalidTransition = &ServiceError{Code: CodeInvalidTransition}
	ErrInvalidCatalog    = &ServiceError{Code: CodeInvalidCatalog}
)

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ProtectedAddress reports an attempt to demote, blacklist, suspend or delete the root admin.
func ProtectedAddress(address, operation string) *ServiceError {
	return newError(CodeProtectedAddress, http.StatusForbidden,
		fmt.Sprintf("%s is not permitted on the root admin", operation), nil).
		WithDetails("address", address)
}

// UnknownFeature reports a feature id absent from the catalog.
func UnknownFeature(featureID string) *ServiceError {
	return newError(CodeUnknownFeature, http.StatusNotFound, "unknown feature", nil).
		WithDetails("feature", featureID)
}

// InvalidAddress reports a malformed account identifier.
func InvalidAddress(address string, cause error) *ServiceError {
	return newError(CodeInvalidAddress, http.StatusBadRequest, "invalid address", cause).
		WithDetails("address", address)
}

// NotAuthorized reports a non-admin invoking an admin operation.
func NotAuthorized(actor string) *ServiceError {
	return newError(CodeNotAuthorized, http.StatusForbidden, "admin privileges required", nil).
		WithDetails("actor", actor)
}

// NotAccountOwner reports a caller acting on an address other than its own.
func NotAccountOwner(actor, address string) *ServiceError {
	return newError(CodeNotAccountOwner, http.StatusForbidden, "token does not belong to this account", nil).
		WithDetails("actor", actor).
		WithDetails("address", address)
}

// AccountNotFound reports an address with no registry record.
func AccountNotFound(address string) *ServiceError {
	return newError(CodeAccountNotFound, http.StatusNotFound, "account not found", nil).
		WithDetails("address", address)
}

// InvalidCommand reports a malformed admin command.
func InvalidCommand(message string) *ServiceError {
	return newError(CodeInvalidCommand, http.StatusBadRequest, message, nil)
}

// InvalidTransition reports a rejected state change.
func InvalidTransition(from, to string) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict,
		fmt.Sprintf("invalid transition: %s -> %s", from, to), nil)
}

// InvalidCatalog reports a feature catalog that failed validation at load time.
func InvalidCatalog(message string, cause error) *ServiceError {
	return newError(CodeInvalidCatalog, http.StatusInternalServerError, message, cause)
}

// Unauthorized reports missing or unusable credentials.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a token that failed validation.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid token", cause)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
