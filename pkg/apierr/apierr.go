// Package apierr defines the tagged error variants shared by every Beacon
// component and the single total mapping from error code to HTTP status.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code carried on the wire.
type Code string

const (
	CodeMissingAuth       Code = "MISSING_AUTH"
	CodeInvalidAPIKey     Code = "INVALID_API_KEY"
	CodeExpiredAPIKey     Code = "EXPIRED_API_KEY"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeTenantSuspended   Code = "TENANT_SUSPENDED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInsufficientScope Code = "INSUFFICIENT_SCOPE"
	CodeInvalidTopic      Code = "INVALID_TOPIC"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeLimitExceeded     Code = "LIMIT_EXCEEDED"
	CodePublishFailed     Code = "PUBLISH_FAILED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternal          Code = "INTERNAL"
)

// Class categorizes errors for retry policy decisions.
type Class int

const (
	// ClassPermanent errors are caller mistakes; never retried.
	ClassPermanent Class = iota
	// ClassTransient errors may succeed on retry (log append timeout, DB deadlock).
	ClassTransient
	// ClassFatal errors indicate a broken invariant (missing tenant on an
	// authenticated request) and should page.
	ClassFatal
)

// Error is the tagged error variant used across the core.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Class   Class
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a permanent error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a permanent error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Transient marks an error as retryable.
func Transient(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Class: ClassTransient, cause: cause}
}

// Fatal marks an invariant violation.
func Fatal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Class: ClassFatal, cause: cause}
}

// WithDetails attaches structured detail fields and returns the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the Code from any error; non-tagged errors are INTERNAL.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// AsError extracts the tagged variant, wrapping foreign errors as INTERNAL.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(CodeInternal, "internal error", err)
}

// HTTPStatus is the single total function mapping codes to HTTP statuses.
func HTTPStatus(code Code) int {
	switch code {
	case CodeMissingAuth, CodeInvalidAPIKey, CodeExpiredAPIKey, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeTenantSuspended, CodeInsufficientScope, CodeQuotaExceeded:
		return http.StatusForbidden
	case CodeRateLimited, CodeLimitExceeded:
		return http.StatusTooManyRequests
	case CodeInvalidTopic, CodeInvalidPayload, CodeValidationFailed:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotFound:
		return http.StatusNotFound
	case CodePublishFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape for error responses.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody carries the error payload inside the envelope.
type EnvelopeBody struct {
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ToEnvelope renders any error as the standard envelope. Internal causes are
// never exposed in the body.
func ToEnvelope(err error, requestID string) Envelope {
	ae := AsError(err)
	msg := ae.Message
	if ae.Code == CodeInternal {
		msg = "internal error"
	}
	return Envelope{Error: EnvelopeBody{
		Code:      ae.Code,
		Message:   msg,
		Details:   ae.Details,
		RequestID: requestID,
	}}
}
