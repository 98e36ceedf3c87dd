// Package apperr defines the typed failures returned by the resolution and tagging engine.
//
// Callers match on kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrAmbiguous) {
//	    var e *apperr.Error
//	    _ = errors.As(err, &e)
//	    // e.Details holds the candidate creator names
//	}
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindAmbiguous           Kind = "AMBIGUOUS"
	KindPlatformUnavailable Kind = "PLATFORM_UNAVAILABLE"
	KindInvalidOffset       Kind = "INVALID_OFFSET"
	KindInvalid             Kind = "INVALID"
)

// HTTPStatus maps a kind to the status used by the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindAmbiguous:
		return http.StatusConflict
	case KindPlatformUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidOffset, KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failure with a kind, a human message and optional details.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindPlatformUnavailable }

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAmbiguous           = &Error{Kind: KindAmbiguous, Message: "ambiguous"}
	ErrPlatformUnavailable = &Error{Kind: KindPlatformUnavailable, Message: "platform unavailable"}
	ErrInvalidOffset       = &Error{Kind: KindInvalidOffset, Message: "invalid offset"}
	ErrInvalid             = &Error{Kind: KindInvalid, Message: "invalid request"}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Ambiguous carries the competing candidates in Details.
func Ambiguous(candidates []string, format string, args ...any) *Error {
	return &Error{Kind: KindAmbiguous, Message: fmt.Sprintf(format, args...), Details: candidates}
}

func PlatformUnavailable(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindPlatformUnavailable, Message: fmt.Sprintf(format, args...), cause: cause}
}

func InvalidOffset(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidOffset, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus returns the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if k := KindOf(err); k != "" {
		return k.HTTPStatus()
	}
	return http.StatusInternalServerError
}
