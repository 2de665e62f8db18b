// Package apperr defines the error kinds shared by the attendance and payroll engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFormat
	KindInvalidRange
	KindNotFound
	KindPersistence
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFormat:
		return "invalid format"
	case KindInvalidRange:
		return "invalid range"
	case KindNotFound:
		return "not found"
	case KindPersistence:
		return "persistence error"
	case KindTransient:
		return "transient error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is checks; an *Error matches the sentinel of its kind.
var (
	ErrInvalidFormat = &Error{Kind: KindInvalidFormat}
	ErrInvalidRange  = &Error{Kind: KindInvalidRange}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrTransient     = &Error{Kind: KindTransient}
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func InvalidFormat(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidFormat, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidRange(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidRange, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure that should not be retried any further.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// Transient wraps a failure the retry policy may attempt again.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
