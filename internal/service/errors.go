package service

import (
	"errors"
	"fmt"
)

// Error kinds. The HTTP layer maps each kind to a status code.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrLimitReached = errors.New("limit reached")
)

// Error is a client-facing error. Its message is safe to return in a response.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return newError(ErrInvalidInput, format, args...)
}

func notFoundf(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func conflictf(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}
