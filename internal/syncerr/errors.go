// Package syncerr defines the error kinds shared by the lock manager, conflict
// engine and batch processor. Handlers translate kinds into HTTP responses;
// services compare against the per-kind sentinels with errors.Is.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for callers that need to branch on it.
type Kind string

const (
	KindValidation        Kind = "validation_conflict"
	KindDuplicateResource Kind = "duplicate_resource"
	KindLockConflict      Kind = "lock_conflict"
	KindNotFound          Kind = "not_found"
	KindInvalidResolution Kind = "invalid_resolution"
	KindAdmissionDenied   Kind = "admission_denied"
	KindTransientStore    Kind = "transient_store_error"
)

// Sentinels, one per kind. errors.Is(err, ErrNotFound) matches any *Error of
// that kind.
var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation conflict"}
	ErrDuplicateResource = &Error{Kind: KindDuplicateResource, Message: "duplicate resource"}
	ErrLockConflict      = &Error{Kind: KindLockConflict, Message: "lock held by another owner"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidResolution = &Error{Kind: KindInvalidResolution, Message: "invalid resolution"}
	ErrAdmissionDenied   = &Error{Kind: KindAdmissionDenied, Message: "admission denied"}
	ErrTransientStore    = &Error{Kind: KindTransientStore, Message: "store unavailable"}
)

// Error is a classified error. Admission denials carry a retry hint and, for
// rate limiting, the caller's quota.
type Error struct {
	Kind    Kind
	Message string

	RetryAfter time.Duration
	Limit      int
	Remaining  int
	// Reason distinguishes admission denials ("rate_limited", "circuit_open").
	Reason string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so that wrapped instances compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, never below 1.
func (e *Error) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InvalidResolution reports a rejected resolution request.
func InvalidResolution(format string, args ...any) *Error {
	return New(KindInvalidResolution, format, args...)
}

// Transient wraps an unexpected store failure.
func Transient(cause error, format string, args ...any) *Error {
	return Wrap(KindTransientStore, cause, format, args...)
}

// RateLimited is an admission denial from the per-user quota.
func RateLimited(limit, remaining int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindAdmissionDenied,
		Reason:     "rate_limited",
		Message:    "rate limit exceeded",
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// CircuitOpen is an admission denial from an open circuit breaker.
func CircuitOpen(name string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindAdmissionDenied,
		Reason:     "circuit_open",
		Message:    fmt.Sprintf("circuit %q is open", name),
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
