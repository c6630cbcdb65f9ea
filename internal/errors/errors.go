// Package errors provides unified error handling with structured codes.
// Codes follow the speech-session taxonomy surfaced to clients, so the same
// values flow from recognizer failures through session events to the API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies an error class.
type Code string

// Session and recognizer codes. The first three are fatal for a listening
// session; no-speech and aborted are transient and never end one.
const (
	CodePermissionDenied Code = "permission-denied"
	CodeNoMicrophone     Code = "no-microphone"
	CodeUnsupported      Code = "unsupported"
	CodeAudioCapture     Code = "audio-capture"
	CodeNetwork          Code = "network"
	CodeNoSpeech         Code = "no-speech"
	CodeAborted          Code = "aborted"
)

// Repository and API codes.
const (
	CodeNotFound        Code = "not-found"
	CodeInvalidArgument Code = "invalid-argument"
	CodeInternal        Code = "internal"
	CodeUnknown         Code = "unknown"
)

// httpStatusMap maps codes to HTTP status codes for the REST layer.
var httpStatusMap = map[Code]int{
	CodePermissionDenied: http.StatusForbidden,
	CodeNotFound:         http.StatusNotFound,
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeUnsupported:      http.StatusBadRequest,
	CodeNetwork:          http.StatusBadGateway,
	CodeInternal:         http.StatusInternalServerError,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of an error, unwrapping as needed.
// Plain errors report CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether the error should be ignored by a listening
// session: recognition simply continues (or restarts) without counting it
// as a failure.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeNoSpeech, CodeAborted:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error ends a listening session immediately,
// with no restart attempt.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodePermissionDenied, CodeNoMicrophone, CodeUnsupported:
		return true
	default:
		return false
	}
}

// FromGRPC classifies a gRPC error from the recognizer stream (best effort).
// Stream-duration and cancellation errors become transient aborts so a
// session supervisor restarts silently instead of surfacing them.
func FromGRPC(err error) *AppError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	var code Code
	switch st.Code() {
	case codes.PermissionDenied, codes.Unauthenticated:
		code = CodePermissionDenied
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		code = CodeNetwork
	case codes.Unimplemented, codes.InvalidArgument:
		code = CodeUnsupported
	case codes.OutOfRange, codes.Canceled:
		code = CodeAborted
	case codes.NotFound:
		code = CodeNotFound
	case codes.Internal:
		code = CodeInternal
	default:
		code = CodeUnknown
	}
	return &AppError{Code: code, Message: st.Message(), Cause: err}
}
