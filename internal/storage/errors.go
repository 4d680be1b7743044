package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned when a caller violates the store contract
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInternal is returned for I/O and engine failures
	ErrInternal = errors.New("internal storage error")
)

// ErrorKind classifies a storage failure
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Error is the typed failure returned by every Store method
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

// KindOf returns the classification of err, defaulting to KindInternal
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, ErrInvalidArgument) {
		return KindInvalidArgument
	}
	return KindInternal
}

func notFound(op string, format string, args ...any) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

func invalidArgument(op string, format string, args ...any) error {
	return &Error{Op: op, Kind: KindInvalidArgument, Err: fmt.Errorf(format, args...)}
}

// internalErr wraps err unless it is already a typed storage error
func internalErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Kind: KindInternal, Err: err}
}
