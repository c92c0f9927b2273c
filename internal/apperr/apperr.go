// Package apperr classifies operation failures so that the queue and HTTP
// adapters can decide on retry and status-code policy without inspecting
// error text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransient is the default for unclassified infrastructure failures;
	// jobs carrying it are retried per the queue's backoff policy.
	KindTransient Kind = iota
	// KindValidation marks malformed input; never retried.
	KindValidation
	// KindNotFound marks a missing entity; terminal for a job attempt.
	KindNotFound
	// KindConflict marks a business-rule conflict (no code available, wrong
	// order state); terminal for a job attempt.
	KindConflict
	// KindUnauthorized marks a caller without rights to the entity.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "transient"
	}
}

// Error pairs a Kind with an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving its chain.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors are
// transient: an unknown infrastructure failure must be retried, not dropped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsTerminal reports whether err must not be retried by the queue.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindUnauthorized:
		return true
	}
	return false
}
