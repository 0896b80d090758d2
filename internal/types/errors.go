package types

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy callers dispatch on. Messages are for humans;
// kinds are the contract.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindState
	KindPermission
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindPermission:
		return "permission"
	case KindAmbiguous:
		return "ambiguous reference"
	}
	return "unknown"
}

// Error is a kinded error. Wrapped causes stay reachable through Unwrap.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.err }

// Kind returns the kind of the error.
func (e *Error) Kind() Kind { return e.kind }

func newKindf(kind Kind, format string, args ...any) *Error {
	ferr := fmt.Errorf(format, args...)
	return &Error{kind: kind, msg: ferr.Error(), err: errors.Unwrap(ferr)}
}

// NotFoundf, Conflictf, Validationf, Statef, and Permissionf construct
// kinded errors. All accept Printf-style formatting, including %w.
func NotFoundf(format string, args ...any) error {
	return newKindf(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return newKindf(KindConflict, format, args...)
}

func Validationf(format string, args ...any) error {
	return newKindf(KindValidation, format, args...)
}

func Statef(format string, args ...any) error {
	return newKindf(KindState, format, args...)
}

func Permissionf(format string, args ...any) error {
	return newKindf(KindPermission, format, args...)
}

// AmbiguousError reports a short-id prefix that matched more than one row
// with no exact match. Samples holds a few matching short ids to help the
// caller disambiguate.
type AmbiguousError struct {
	Ref     string
	Count   int
	Samples []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous reference %q matches %d ids (%s)",
		e.Ref, e.Count, strings.Join(e.Samples, ", "))
}

// KindOf extracts the taxonomy kind from any error in the chain.
// Unwrapped errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.kind
	}
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return KindAmbiguous
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
