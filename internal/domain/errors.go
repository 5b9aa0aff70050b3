package domain

import (
	"errors"
	"fmt"
)

// Kind is the machine-checkable category of a failed operation.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a malformed request, rejected before any storage call
	KindValidation
	// KindConflict is an overlap or a shift that collapses a marker
	KindConflict
	// KindNotFound is an unknown marker, episode or scope id
	KindNotFound
	// KindStorage is a failure of the underlying database
	KindStorage
	// KindReconciliation is a failure of purge housekeeping
	KindReconciliation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindReconciliation:
		return "reconciliation"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every marker operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinels by kind, so errors.Is(err, ErrConflict) works for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinel errors for kind checks
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrStorage        = &Error{Kind: KindStorage}
	ErrReconciliation = &Error{Kind: KindReconciliation}

	// ErrNoMarkerTag indicates the database has no marker tag row (not a Plex database)
	ErrNoMarkerTag = errors.New("marker tag not found in database")
)

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a driver error with context. A nil cause returns nil.
func Storage(cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	var de *Error
	if errors.As(cause, &de) {
		return cause
	}
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the category of err, KindUnknown when err is not a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
