// Package errors augments the standard errors with sentinel
// errors that may wrap a cause.
//
// Sentinels are declared once with New and wrapped at the call site:
//
//	var ErrPush = errors.New("push failed")
//	...
//	return ErrPush.Wrap(err)
//
// Wrap returns a copy, so the declared sentinel is never mutated and
// errors.Is(wrapped, ErrPush) keeps holding.
package errors

import (
	stderr "errors"
	"fmt"
)

var _ error = New("")

// New sentinel error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is a sentinel error, possibly wrapping a cause.
type Error struct {
	msg    string
	err    error
	origin *Error
}

// Error message, including the wrapped cause if any
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error. The receiver is left untouched.
func (e *Error) Wrap(err error) *Error {
	origin := e
	if e.origin != nil {
		origin = e.origin
	}
	return &Error{msg: e.msg, err: err, origin: origin}
}

// Wrapf wraps a formatted message as the nested error.
func (e *Error) Wrapf(format string, args ...interface{}) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.origin != nil && e.origin == t)
}

// As finds the first error in err's chain that matches target
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
