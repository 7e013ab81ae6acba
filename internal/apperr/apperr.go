// Package apperr declares the error taxonomy used across the supervisor so
// that the HTTP boundary can map failures to status codes without string
// matching on error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the seven error categories a failure belongs to.
type Kind int

const (
	KindDescriptor Kind = iota
	KindFetch
	KindModuleLoad
	KindMount
	KindMemory
	KindInvocation
	KindSubCall
)

func (k Kind) String() string {
	switch k {
	case KindDescriptor:
		return "DescriptorError"
	case KindFetch:
		return "FetchError"
	case KindModuleLoad:
		return "ModuleLoadError"
	case KindMount:
		return "MountError"
	case KindMemory:
		return "MemoryError"
	case KindInvocation:
		return "InvocationError"
	case KindSubCall:
		return "SubCallError"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying error with its taxonomy Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Mount-stage specific sentinels for the MountError cases.
var (
	ErrMissingInputFile    = errors.New("missing input file")
	ErrUnexpectedInputFile = errors.New("unexpected input file")
	ErrDuplicateMount      = errors.New("duplicate mount")
)
