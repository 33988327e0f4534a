// Package errs defines the kind-tagged errors surfaced at component
// boundaries. Every error a caller sees carries a stable kind, a message,
// and an optional hint. Credentials are never echoed into messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable error-kind tag.
type Kind string

const (
	KindInvalidRequest        Kind = "invalid_request"
	KindPromptTooLarge        Kind = "prompt_too_large"
	KindUnknownModel          Kind = "unknown_model"
	KindModelRestricted       Kind = "model_restricted"
	KindAutoNotResolved       Kind = "auto_not_resolved"
	KindNoProviders           Kind = "no_providers_configured"
	KindThreadNotFound        Kind = "thread_not_found"
	KindThreadFull            Kind = "thread_full"
	KindProviderUnavailable   Kind = "provider_unavailable" // transient; retried once
	KindProviderFatal         Kind = "provider_fatal"
	KindWorkerTimeout         Kind = "worker_timeout"
	KindWorkerFailed          Kind = "worker_failed"
	KindRunDeadlineExceeded   Kind = "run_deadline_exceeded"
	KindInternal              Kind = "internal"
)

// Error is a kind-tagged error.
type Error struct {
	Kind Kind
	Msg  string
	Hint string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kind-tagged error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a kind-tagged error around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithHint attaches a remediation hint and returns the same error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HintOf returns the hint attached to err, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// Retryable reports whether err is transient (single bounded retry allowed).
func Retryable(err error) bool {
	return KindOf(err) == KindProviderUnavailable
}
