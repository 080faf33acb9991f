// Package apierr defines the typed error taxonomy shared by every layer of
// the server: the CRM client, the cache, the embedding manager, and the
// tool dispatcher all return or wrap these kinds so that transports can map
// them to JSON-RPC errors without losing the original classification.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-level mapping and logging.
type Kind string

const (
	KindConfig     Kind = "ConfigError"
	KindAuth       Kind = "AuthError"
	KindClient     Kind = "ClientError"
	KindTransient  Kind = "TransientError"
	KindNotFound   Kind = "NotFound"
	KindNotReady   Kind = "NotReadyError"
	KindDisabled   Kind = "Disabled"
	KindTimeout    Kind = "Timeout"
	KindCanceled   Kind = "Canceled"
	KindInternal   Kind = "Internal"
)

// Error is the concrete typed error carried through the stack.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; only meaningful for KindTransient rate-limit cases
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a causing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a retry-after hint (seconds) to a TransientError.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
