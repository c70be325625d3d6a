// Package cperr defines the control-plane error taxonomy from the design's
// error-handling section: typed, errors.Is/As-compatible outcomes instead
// of the exception-driven control flow the source system used.
package cperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindPolicy           Kind = "policy_error"
	KindFrozen           Kind = "frozen_error"
	KindNotFound         Kind = "not_found_error"
	KindConflict         Kind = "conflict_error"
	KindAuditIntegrity   Kind = "audit_integrity_violation"
	KindUnavailable      Kind = "control_plane_unavailable"
	KindInternal         Kind = "internal_error"
)

// Error is the concrete typed error every public operation returns instead
// of an ad-hoc string or a raised exception.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, cperr.ErrFrozen) style sentinel comparisons by
// kind rather than by pointer identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, retryable bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, false, format, args...)
}

func Policy(format string, args ...interface{}) *Error {
	return newErr(KindPolicy, false, format, args...)
}

func Frozen(format string, args ...interface{}) *Error {
	return newErr(KindFrozen, false, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, false, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newErr(KindConflict, true, format, args...)
}

func AuditIntegrity(format string, args ...interface{}) *Error {
	return newErr(KindAuditIntegrity, false, format, args...)
}

func Unavailable(format string, args ...interface{}) *Error {
	return newErr(KindUnavailable, false, format, args...)
}

func Wrap(kind Kind, retryable bool, cause error, format string, args ...interface{}) *Error {
	e := newErr(kind, retryable, format, args...)
	e.Cause = cause
	return e
}

// Sentinels for errors.Is comparisons where callers don't need the message.
var (
	ErrFrozen         = &Error{Kind: KindFrozen}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict, Retryable: true}
	ErrPolicy         = &Error{Kind: KindPolicy}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrAuditIntegrity = &Error{Kind: KindAuditIntegrity}
)

// KindOf extracts the Kind from err, returning KindInternal for anything
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err's kind is internally retryable (currently
// only ConflictError, per §7's propagation policy).
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
