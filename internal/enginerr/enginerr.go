// Package enginerr defines the engine's error taxonomy. Driver-level failures
// are classified into a closed set of kinds so callers can decide whether to
// retry and how to report the failure, without depending on driver internals.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind identifies an error category in the engine taxonomy.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota
	// KindConfig covers unsupported dialect tags and malformed descriptors.
	KindConfig
	// KindAuth covers rejected credentials. Non-retryable.
	KindAuth
	// KindUnreachable covers host/network failures. Non-retryable within one call.
	KindUnreachable
	// KindDatabaseMissing covers a reachable server without the target database.
	KindDatabaseMissing
	// KindPoolTimeout covers pool exhaustion and acquire timeouts. Retryable.
	KindPoolTimeout
	// KindQueryTimeout covers query deadline expiry. Retryable; the pool stays up.
	KindQueryTimeout
	// KindBounds covers invalid client input such as drill-down depth overflow.
	KindBounds
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindUnreachable:
		return "unreachable"
	case KindDatabaseMissing:
		return "database_missing"
	case KindPoolTimeout:
		return "pool_timeout"
	case KindQueryTimeout:
		return "query_timeout"
	case KindBounds:
		return "bounds"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may back off and retry the operation.
func (k Kind) Retryable() bool {
	return k == KindPoolTimeout || k == KindQueryTimeout
}

// Error is a typed engine error carrying a user-facing message and the
// underlying cause. The message never contains credentials.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error without an underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message from an error chain, falling back
// to the raw error text when the error is untyped.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
