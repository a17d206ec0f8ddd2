// Package syncerr defines the small set of error kinds the sync pipeline
// needs to distinguish when deciding whether a message should be archived
// and acked, or rethrown so the queue's own redelivery policy kicks in.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the archive-vs-retry decision made in
// pkg/consumer. It is the only fork in the whole pipeline that needs to
// know about this distinction.
type Kind int

const (
	// KindUnknown is never constructed directly; it is the zero value of
	// Kind and signals a plain Go error with no special handling.
	KindUnknown Kind = iota
	KindConfig
	KindSourceUnavailable
	KindCursorExpired
	KindBadResource
	KindSchemaMismatch
	KindDecode
	KindCoerce
	KindDuplicateArtifact
	KindWriteFailure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindCursorExpired:
		return "CursorExpired"
	case KindBadResource:
		return "BadResource"
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindDecode:
		return "DecodeError"
	case KindCoerce:
		return "CoerceError"
	case KindDuplicateArtifact:
		return "DuplicateArtifact"
	case KindWriteFailure:
		return "WriteFailure"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable error that carries a Kind alongside the usual
// message and cause chain.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's Kind. KindOf does the same for an error that
// merely wraps a *Error.
func (e *Error) Kind() Kind { return e.kind }

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, otherwise
// KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return KindUnknown
}

// Retryable reports whether the queue's own redelivery policy should be
// allowed to act on err, per spec's §7 rule of thumb: errors that will
// recur on retry are archived and acked, errors that might recover are
// rethrown.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindWriteFailure, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}
