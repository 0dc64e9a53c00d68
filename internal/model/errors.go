package model

import (
	"errors"
	"fmt"
)

// Error is a domain failure carrying the stable numeric code exposed to
// API clients. Package sentinels are *Error values compared with errors.Is.
type Error struct {
	Code int
	Name string
	msg  string
}

// NewError declares a coded sentinel.
func NewError(code int, name, msg string) *Error {
	return &Error{Code: code, Name: name, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// ErrInvalidInput covers non-positive amounts, malformed identifiers, zero
// prices and any other argument the engines refuse to act on.
var ErrInvalidInput = NewError(10, "InvalidInput", "invalid input")

// InvalidInputf wraps ErrInvalidInput with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CodeOf extracts the coded error from err's chain.
func CodeOf(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
