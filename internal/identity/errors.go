package identity

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures so callers can pick a recovery policy:
// auth errors are surfaced verbatim and never retried, not-found drives
// fallback lookups, transient errors are retry-eligible.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindNotFound
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// Error wraps a provider failure with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("identity: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("identity: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsNotFound reports whether err means the identity does not exist. This is
// an expected outcome, not a fault.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }
